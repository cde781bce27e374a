// honeylinkd is the HoneyLink peer-to-peer connectivity daemon: it
// pairs with a peer device, then runs the Session Orchestrator, Crypto
// Core, QoS Scheduler, and Transport for as long as the process lives.
//
// Device discovery, a pairing UI, and configuration-file loading are
// out of scope (SPEC_FULL.md section 1): the OOB pairing secret and
// peer address are supplied directly on the command line, and runtime
// tuning comes from internal/config.DefaultConfig().
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/trace"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/honeylink/honeylink-core/internal/config"
	"github.com/honeylink/honeylink-core/internal/crypto"
	"github.com/honeylink/honeylink-core/internal/eventbus"
	"github.com/honeylink/honeylink-core/internal/metrics"
	"github.com/honeylink/honeylink-core/internal/netio"
	"github.com/honeylink/honeylink-core/internal/policy"
	"github.com/honeylink/honeylink-core/internal/qos"
	"github.com/honeylink/honeylink-core/internal/session"
	"github.com/honeylink/honeylink-core/internal/store"
	"github.com/honeylink/honeylink-core/internal/transport"
	appversion "github.com/honeylink/honeylink-core/internal/version"
)

// shutdownDrain bounds how long in-flight sessions get to reach a
// clean Closed state once shutdown begins.
const shutdownDrain = 2 * time.Second

// flightRecorderMinAge/MaxBytes mirror the teacher's post-mortem
// debugging window, unrelated to BFD specifically.
const (
	flightRecorderMinAge   = 500 * time.Millisecond
	flightRecorderMaxBytes = 2 * 1024 * 1024
)

// defaultProfileID names the QoS profile every session uses absent an
// explicit selection (SPEC_FULL.md section 6, "default_profile_id").
const defaultProfileID = "default"

func main() {
	os.Exit(run())
}

func run() int {
	listenAddr := flag.String("listen", ":4433", "QUIC address to accept pairing/session connections on")
	dialAddr := flag.String("dial", "", "QUIC address of a peer to pair with; if empty, only listens")
	oobSecret := flag.String("oob", "", "out-of-band pairing secret (required to pair)")
	dataDir := flag.String("data-dir", "./honeylinkd-data", "directory for sealed peer/profile stores and identity")
	logLevel := flag.String("log-level", "info", "debug, info, warn, or error")
	logFormat := flag.String("log-format", "json", "json or text")
	flag.Parse()

	cfg := config.DefaultConfig()
	cfg.Log.Level = *logLevel
	cfg.Log.Format = *logFormat
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Log)
	logger.Info("honeylinkd starting", slog.String("version", appversion.Version))

	fr := startFlightRecorder(logger)
	defer func() {
		if fr != nil {
			fr.Stop()
		}
	}()

	if err := os.MkdirAll(*dataDir, 0o700); err != nil {
		logger.Error("create data directory", slog.String("error", err.Error()))
		return 1
	}

	identity, err := loadOrCreateIdentity(filepath.Join(*dataDir, "identity.yaml"))
	if err != nil {
		logger.Error("load identity", slog.String("error", err.Error()))
		return 1
	}
	defer identity.Close()

	d, err := newDaemon(cfg, identity, *dataDir, logger)
	if err != nil {
		logger.Error("initialize daemon", slog.String("error", err.Error()))
		return 1
	}
	defer d.Close()

	if err := d.bootstrapDefaultProfile(); err != nil {
		logger.Error("install default profile", slog.String("error", err.Error()))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	ln, err := netio.Listen(*listenAddr, netio.TLSConfig(d.tlsCert, acceptAnyPeer))
	if err != nil {
		logger.Error("listen", slog.String("error", err.Error()))
		return 1
	}
	logger.Info("listening", slog.String("addr", ln.Addr()))

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutdown signal received, draining sessions", slog.Duration("drain", shutdownDrain))
		time.Sleep(shutdownDrain)
		return ln.Close()
	})
	g.Go(func() error {
		return d.acceptLoop(gCtx, ln, []byte(*oobSecret))
	})

	if *dialAddr != "" {
		g.Go(func() error {
			return d.dialPeer(gCtx, *dialAddr, []byte(*oobSecret))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("honeylinkd stopped")
	return 0
}

// acceptAnyPeer accepts any presented certificate: the pairing exchange
// itself (not the TLS handshake) is what authenticates an unfamiliar
// peer's identity for a first connection. Reconnection to an
// already-trusted peer still goes through the same pairing path in
// this daemon; a production deployment would pin netio.PinnedPeerVerifier
// per known peer once it has looked up the dialed address's expected
// identity ahead of the TLS handshake.
func acceptAnyPeer([][]byte, [][]*x509.Certificate) error { return nil }

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})
	if err := fr.Start(); err != nil {
		logger.Warn("flight recorder unavailable", slog.String("error", err.Error()))
		return nil
	}
	return fr
}

// identityFile is the plaintext-on-disk shape of a device identity.
// Sealing it the way peer/profile records are sealed is circular (the
// seal key itself derives from this identity); protection instead
// comes from the 0600 file mode loadOrCreateIdentity enforces, the same
// trust boundary an unencrypted SSH host key relies on.
type identityFile struct {
	X25519Private [32]byte `yaml:"x25519_private"`
	Ed25519Seed   [32]byte `yaml:"ed25519_seed"`
}

func loadOrCreateIdentity(path string) (*crypto.IdentityKeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		var f identityFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse identity file: %w", err)
		}
		return crypto.ImportIdentityKeyPair(f.X25519Private, f.Ed25519Seed)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	identity, err := crypto.NewIdentityKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	out, err := yaml.Marshal(identityFile{
		X25519Private: identity.X25519Private,
		Ed25519Seed:   identity.Ed25519Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("encode identity file: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return nil, fmt.Errorf("write identity file: %w", err)
	}
	return identity, nil
}

// daemon bundles every wired component a pairing/session lifecycle
// touches.
type daemon struct {
	cfg      *config.Config
	identity *crypto.IdentityKeyPair
	tlsCert  tls.Certificate

	peers    *session.PeerStore
	profiles *policy.Engine
	sessions *session.Manager
	reporter metrics.Reporter

	policyBus    *eventbus.Bus[policy.PolicyUpdated]
	peerStoreRaw *store.Store[session.PeerRecord]
	profilesRaw  *store.Store[policy.Profile]

	logger *slog.Logger

	mu         sync.Mutex
	schedulers map[string]*qos.Scheduler // keyed by session id string, for profile fan-out
}

// newDaemon opens the sealed peer/profile stores under dataDir and
// wires the Policy Engine, Session Orchestrator, and QoS profile
// propagation bus together.
func newDaemon(cfg *config.Config, identity *crypto.IdentityKeyPair, dataDir string, logger *slog.Logger) (*daemon, error) {
	tlsCert, err := netio.SelfSignedCertificate(identity)
	if err != nil {
		return nil, fmt.Errorf("build self-signed certificate: %w", err)
	}

	peerSealKey, err := store.DeriveSealKey(identity.X25519Private, "peers")
	if err != nil {
		return nil, fmt.Errorf("derive peer store seal key: %w", err)
	}
	peerRaw, err := store.Open[session.PeerRecord](filepath.Join(dataDir, "peers.db"), peerSealKey, logger)
	if err != nil {
		return nil, fmt.Errorf("open peer store: %w", err)
	}

	profileSealKey, err := store.DeriveSealKey(identity.X25519Private, "profiles")
	if err != nil {
		return nil, fmt.Errorf("derive profile store seal key: %w", err)
	}
	profilesRaw, err := store.Open[policy.Profile](filepath.Join(dataDir, "profiles.db"), profileSealKey, logger)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}

	bus := eventbus.New[policy.PolicyUpdated](eventbus.DefaultSubscriberBuffer, logger)

	d := &daemon{
		cfg:          cfg,
		identity:     identity,
		tlsCert:      tlsCert,
		peers:        session.NewPeerStore(peerRaw),
		profiles:     policy.NewEngine(profilesRaw, bus, identity.Signer(), logger),
		sessions:     session.NewManager(time.Duration(cfg.Rotation.ScheduleDays)*24*time.Hour, logger),
		reporter:     metrics.NopReporter{},
		policyBus:    bus,
		peerStoreRaw: peerRaw,
		profilesRaw:  profilesRaw,
		logger:       logger,
		schedulers:   make(map[string]*qos.Scheduler),
	}
	return d, nil
}

// bootstrapDefaultProfile installs defaultProfileID, signed by this
// device's own identity, if no such profile is already on file. A
// peer's Policy Engine is expected to converge on a shared profile via
// Install/rollback in the field; a freshly initialized node needs
// something to apply before that has happened.
func (d *daemon) bootstrapDefaultProfile() error {
	if _, err := d.profiles.Read(defaultProfileID, "1.0.0"); err == nil {
		return nil
	}

	profile := policy.Profile{
		ID:            defaultProfileID,
		Version:       "1.0.0",
		BandShares:    [3]float64{d.cfg.Bandwidth.Low, d.cfg.Bandwidth.Mid, d.cfg.Bandwidth.High},
		FECStrategy:   transport.FECNone,
		MaxQueueDepth: qos.DefaultDepthCap,
		LatencyTarget: 0,
	}
	profile.Sign(d.identity.Signer())

	if err := d.profiles.Install(profile, false); err != nil {
		return fmt.Errorf("install default profile: %w", err)
	}
	return nil
}

// Close tears down every owned resource.
func (d *daemon) Close() {
	d.sessions.Close()
	if err := d.peerStoreRaw.Close(); err != nil {
		d.logger.Warn("close peer store", slog.String("error", err.Error()))
	}
	if err := d.profilesRaw.Close(); err != nil {
		d.logger.Warn("close profile store", slog.String("error", err.Error()))
	}
}

// acceptLoop accepts inbound QUIC connections and runs the responder
// side of pairing on each.
func (d *daemon) acceptLoop(ctx context.Context, ln *netio.Listener, oob []byte) error {
	for {
		adapter, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("accept failed", slog.String("error", err.Error()))
			continue
		}

		go func() {
			if err := d.pairAndServe(ctx, adapter, oob, false); err != nil {
				d.logger.Warn("inbound pairing failed", slog.String("error", err.Error()))
			}
		}()
	}
}

// dialPeer dials a single peer and runs the initiator side of pairing.
func (d *daemon) dialPeer(ctx context.Context, addr string, oob []byte) error {
	adapter, err := netio.Dial(ctx, addr, netio.TLSConfig(d.tlsCert, acceptAnyPeer))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	return d.pairAndServe(ctx, adapter, oob, true)
}

// pairAndServe runs one side of the pairing exchange over adapter,
// then establishes the resulting Session and pumps packets between the
// QoS Scheduler and the wire until the session closes or ctx ends.
func (d *daemon) pairAndServe(ctx context.Context, adapter *netio.QUICAdapter, oob []byte, initiator bool) error {
	defer adapter.Close()

	pairCtx, cancel := context.WithTimeout(ctx, session.PairingTimeout)
	defer cancel()

	var result session.PairingResult
	var err error
	if initiator {
		result, err = session.RunInitiatorPairing(pairCtx, adapter, d.identity, oob)
	} else {
		result, err = session.RunResponderPairing(pairCtx, adapter, d.identity, oob)
	}
	if err != nil {
		d.reporter.IncAuthFailures(uuid.Nil)
		return fmt.Errorf("pairing: %w", err)
	}

	dm, err := crypto.DeriveDeviceMasterKey(result.Root, result.Transcript)
	if err != nil {
		return fmt.Errorf("derive device-master key: %w", err)
	}

	sess, err := d.sessions.CreateSession(ctx, result.PeerIdentity, dm, "")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := sess.Accept(); err != nil {
		return fmt.Errorf("accept session: %w", err)
	}
	if err := sess.Activate(); err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	d.reporter.RegisterSession(sess.ID())
	defer d.reporter.UnregisterSession(sess.ID())

	if err := d.peers.Trust(peerRecordFrom(result, sess)); err != nil {
		d.logger.Warn("write peer record", slog.String("error", err.Error()))
	}

	profile, err := d.profiles.Read(defaultProfileID, "1.0.0")
	if err != nil {
		return fmt.Errorf("read default profile: %w", err)
	}

	schedCfg := qos.DefaultConfig()
	schedCfg.BandShares = profile.BandShares
	scheduler := qos.NewScheduler(schedCfg, d.logger)
	sess.AttachScheduler(scheduler)

	d.mu.Lock()
	d.schedulers[sess.ID().String()] = scheduler
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.schedulers, sess.ID().String())
		d.mu.Unlock()
	}()

	sessCtx, cancelSess := context.WithCancel(ctx)
	defer cancelSess()

	sub := d.policyBus.Subscribe()
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); scheduler.Run(sessCtx) }()
	// Either pump returning (peer disconnect, send failure) ends the
	// whole session: cancelSess stops the other pump and the scheduler.
	go func() { defer wg.Done(); defer cancelSess(); d.pumpOutbound(sessCtx, scheduler, sess, adapter) }()
	go func() { defer wg.Done(); defer cancelSess(); d.pumpInbound(sessCtx, adapter, sess) }()

	go func() {
		for {
			select {
			case update, ok := <-sub.Events():
				if !ok {
					return
				}
				if update.ProfileID != defaultProfileID {
					continue
				}
				if err := scheduler.ApplyProfile(sessCtx, update.Profile.QoSProfile()); err != nil {
					d.logger.Warn("apply profile update", slog.String("error", err.Error()))
				}
			case <-sessCtx.Done():
				return
			}
		}
	}()

	<-sessCtx.Done()
	wg.Wait()
	return d.sessions.DestroySession(sess.ID())
}

// pumpOutbound forwards scheduled items to the wire.
func (d *daemon) pumpOutbound(ctx context.Context, scheduler *qos.Scheduler, sess *session.Session, adapter *netio.QUICAdapter) {
	buf := make([]byte, transport.MaxPacketSize)
	for {
		select {
		case item, ok := <-scheduler.Dequeue():
			if !ok {
				return
			}
			encoded, err := transport.Marshal(item.Packet, buf)
			if err != nil {
				d.logger.Warn("marshal outbound packet", slog.String("error", err.Error()))
				continue
			}
			if err := adapter.Send(ctx, encoded); err != nil {
				if ctx.Err() == nil {
					d.logger.Warn("send outbound packet", slog.String("error", err.Error()))
				}
				return
			}
			d.reporter.IncPacketsSent(sess.ID())
		case <-ctx.Done():
			return
		}
	}
}

// pumpInbound reads framed packets off the wire and keeps the session
// alive on traffic. Full stream-payload decryption happens at the
// crypto.StreamKey layer a stream handler would own; this pump
// demonstrates the wiring (decode, session liveness, metrics) rather
// than re-deriving stream keys inline.
func (d *daemon) pumpInbound(ctx context.Context, adapter *netio.QUICAdapter, sess *session.Session) {
	for {
		frame, err := adapter.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Debug("inbound read ended", slog.String("error", err.Error()))
			}
			return
		}

		_, unmarshalErr := transport.Unmarshal(frame)
		transport.PacketPool.Put(&frame)
		if unmarshalErr != nil {
			d.logger.Warn("unmarshal inbound packet", slog.String("error", unmarshalErr.Error()))
			continue
		}

		sess.Touch()
		d.reporter.IncPacketsReceived(sess.ID())
	}
}

// peerRecordFrom builds the peer record a successful pairing writes
// (spec.md's Peer Record: identity, trust timestamp, root secret,
// label, latest session id for reconnection).
func peerRecordFrom(result session.PairingResult, sess *session.Session) session.PeerRecord {
	var secret [32]byte
	if raw, err := result.Root.Export(); err == nil {
		secret = raw
	}
	return session.PeerRecord{
		PeerIdentity: result.PeerIdentity,
		RootSecret:   secret,
		TrustedAt:    time.Now(),
		Label:        fmt.Sprintf("peer-%x", []byte(result.PeerIdentity)[:4]),
		LastSession:  sess.ID().String(),
	}
}
