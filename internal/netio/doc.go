// Package netio implements HoneyLink's QUIC transport binding
// (SPEC_FULL.md section 4.3 / section 6): dialing and listening over
// QUIC with TLS 1.3 mutual verification against a pinned peer device
// identity, plus a PhysicalAdapter implementation that carries
// transport.Packet frames over a single multiplexed QUIC stream per
// physical link.
//
// No native radio or kernel socket code lives here — every concrete
// adapter (Wi-Fi Aware, 5G, Li-Fi, ...) is reached over local IPC and
// satisfies transport.PhysicalAdapter; this package supplies the one
// concrete adapter the stack ships with, backed by QUIC over UDP.
package netio
