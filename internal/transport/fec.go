package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/reedsolomon"
)

// FECMode selects the Reed-Solomon redundancy level for a FEC group,
// chosen dynamically per observed loss rate (SPEC_FULL.md section 4.3).
type FECMode uint8

const (
	FECNone FECMode = iota
	FECLight
	FECHeavy
)

func (m FECMode) String() string {
	switch m {
	case FECNone:
		return "none"
	case FECLight:
		return "light"
	case FECHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}

// Default FEC loss-rate thresholds (SPEC_FULL.md section 4.3 / section
// 6 configuration surface: fec_thresholds light_at=0.05, heavy_at=0.10).
const (
	DefaultLightThreshold = 0.05
	DefaultHeavyThreshold = 0.10
)

// DefaultFECGroupTimeout is how long a receiver waits for a FEC group
// to complete before declaring it lost (SPEC_FULL.md section 4.3).
const DefaultFECGroupTimeout = 200 * time.Millisecond

// SelectFECMode picks a mode from an observed loss rate against the
// configured thresholds.
func SelectFECMode(lossRate, lightAt, heavyAt float64) FECMode {
	switch {
	case lossRate >= heavyAt:
		return FECHeavy
	case lossRate >= lightAt:
		return FECLight
	default:
		return FECNone
	}
}

// shardCounts returns the (dataShards, parityShards) Reed-Solomon
// parameterization for a mode. Light adds ~20% redundancy, Heavy ~50%
// (SPEC_FULL.md section 4.3).
func shardCounts(mode FECMode, dataShards int) (data, parity int) {
	switch mode {
	case FECLight:
		parity = (dataShards + 4) / 5 // ~20%
	case FECHeavy:
		parity = (dataShards + 1) / 2 // ~50%
	default:
		parity = 0
	}
	if parity < 1 && mode != FECNone {
		parity = 1
	}
	return dataShards, parity
}

// ErrFECDisabled is returned when Encode/Decode is called with FECNone.
var ErrFECDisabled = errors.New("transport: FEC disabled for this group")

// Encoder wraps a klauspost/reedsolomon encoder for one FEC group's
// shard geometry (grounded on reedsolomon usage in the WireGuard-go and
// xtaci/kcptun manifests, the pack's packetized-transport repos).
type Encoder struct {
	mode     FECMode
	data     int
	parity   int
	encoder  reedsolomon.Encoder
	shardLen int
}

// NewEncoder builds shard parameters for dataShards payload fragments
// under the given mode.
func NewEncoder(mode FECMode, dataShards, shardLen int) (*Encoder, error) {
	if mode == FECNone {
		return &Encoder{mode: mode, data: dataShards, shardLen: shardLen}, nil
	}

	data, parity := shardCounts(mode, dataShards)
	enc, err := reedsolomon.New(data, parity)
	if err != nil {
		return nil, fmt.Errorf("new reed-solomon encoder (%s): %w", mode, err)
	}

	return &Encoder{mode: mode, data: data, parity: parity, encoder: enc, shardLen: shardLen}, nil
}

// Encode splits data into shards and computes parity shards. Returns
// data shards followed by parity shards, all of equal length.
func (e *Encoder) Encode(data [][]byte) ([][]byte, error) {
	if e.mode == FECNone {
		return data, nil
	}

	shards := make([][]byte, e.data+e.parity)
	copy(shards, data)
	for i := len(data); i < len(shards); i++ {
		shards[i] = make([]byte, e.shardLen)
	}

	if err := e.encoder.Encode(shards); err != nil {
		return nil, fmt.Errorf("reed-solomon encode: %w", err)
	}

	return shards, nil
}

// Reconstruct fills in missing shards (nil entries) from available
// data+parity shards, returning an error if reconstruction is
// impossible (too many shards missing for the configured redundancy).
func (e *Encoder) Reconstruct(shards [][]byte) error {
	if e.mode == FECNone {
		return ErrFECDisabled
	}
	if err := e.encoder.Reconstruct(shards); err != nil {
		return fmt.Errorf("reed-solomon reconstruct: %w", err)
	}
	return nil
}

// Group tracks one FEC group's shard arrivals and declares the group
// lost if it does not complete within its timeout. Grounded on the
// teacher's timeout-driven session-liveness pattern (internal/bfd
// detect-timer handling), generalized from per-session timers to
// per-FEC-group timers.
type Group struct {
	mu        sync.Mutex
	id        uint32
	needed    int
	shards    [][]byte
	received  int
	done      bool
	onTimeout func(groupID uint32)
	timer     *time.Timer
}

// NewGroup starts a group's reassembly timer. onTimeout fires at most
// once, after timeout has elapsed without completion.
func NewGroup(ctx context.Context, id uint32, totalShards int, timeout time.Duration, onTimeout func(uint32)) *Group {
	g := &Group{
		id:        id,
		needed:    totalShards,
		shards:    make([][]byte, totalShards),
		onTimeout: onTimeout,
	}
	g.timer = time.AfterFunc(timeout, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.done {
			return
		}
		g.done = true
		if g.onTimeout != nil {
			go g.onTimeout(id)
		}
	})
	go func() {
		<-ctx.Done()
		g.timer.Stop()
	}()
	return g
}

// AddShard records an arrived shard at index idx. Returns true once the
// group has every shard it needs.
func (g *Group) AddShard(idx int, shard []byte) (complete bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.done || idx < 0 || idx >= len(g.shards) {
		return false
	}
	if g.shards[idx] == nil {
		g.shards[idx] = shard
		g.received++
	}

	if g.received >= g.needed {
		g.done = true
		g.timer.Stop()
		return true
	}
	return false
}

// Shards returns the group's shard slice (with gaps as nil) for
// reconstruction.
func (g *Group) Shards() [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.shards
}
