package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// HotswapStrategy picks a replacement adapter among live candidates
// (SPEC_FULL.md section 4.3).
type HotswapStrategy uint8

const (
	StrategyHighestRSSI HotswapStrategy = iota
	StrategyLowestLossRate
	StrategyHighestBandwidth
	StrategyManual
)

func (s HotswapStrategy) String() string {
	switch s {
	case StrategyHighestRSSI:
		return "highest-rssi"
	case StrategyLowestLossRate:
		return "lowest-loss-rate"
	case StrategyHighestBandwidth:
		return "highest-bandwidth"
	case StrategyManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Default hot-swap tuning (SPEC_FULL.md section 4.3).
const (
	MonitorInterval       = 5 * time.Second
	ThroughputDropPercent = 0.50
	ProbeDuration         = 1 * time.Second
	DrainTimeout          = 5 * time.Second
)

// AdapterSwitched is emitted on the event bus when a hot swap completes
// (SPEC_FULL.md section 8, scenario 5: "no session event other than an
// informational AdapterSwitched is emitted").
type AdapterSwitched struct {
	From string
	To   string
	At   time.Time
}

// Registry monitors all active adapters and performs hot swaps when a
// link degrades. Grounded on the teacher's internal/netio/ifmon.go
// interface-monitoring loop, generalized from interface up/down events
// to link-quality samples ranked by a HotswapStrategy.
type Registry struct {
	mu          sync.Mutex
	adapters    map[string]PhysicalAdapter
	active      string
	strategy    HotswapStrategy
	lossThresh  float64
	logger      *slog.Logger
	onSwitched  func(AdapterSwitched)
	drainWait   time.Duration
}

// NewRegistry constructs an empty registry.
func NewRegistry(strategy HotswapStrategy, lossThreshold float64, logger *slog.Logger, onSwitched func(AdapterSwitched)) *Registry {
	return &Registry{
		adapters:   make(map[string]PhysicalAdapter),
		strategy:   strategy,
		lossThresh: lossThreshold,
		logger:     logger,
		onSwitched: onSwitched,
		drainWait:  DrainTimeout,
	}
}

// Register adds an adapter to the pool. The first registered adapter
// becomes active.
func (r *Registry) Register(a PhysicalAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	if r.active == "" {
		r.active = a.Name()
	}
}

// Active returns the currently active adapter, or nil if none registered.
func (r *Registry) Active() PhysicalAdapter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adapters[r.active]
}

// Run polls adapter link quality at MonitorInterval and triggers a hot
// swap on degradation, until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(MonitorInterval)
	defer ticker.Stop()

	var baseline float64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := r.Active()
			if active == nil {
				continue
			}
			lq, err := active.LinkQuality(ctx)
			if err != nil {
				continue
			}
			if baseline == 0 {
				baseline = lq.Throughput
				continue
			}

			degraded := lq.LossRate > r.lossThresh ||
				(baseline > 0 && lq.Throughput < baseline*(1-ThroughputDropPercent))

			if degraded {
				if err := r.swap(ctx); err != nil && r.logger != nil {
					r.logger.Error("hot swap failed", slog.String("error", err.Error()))
				}
				baseline = 0
			} else {
				baseline = lq.Throughput
			}
		}
	}
}

// swap executes the cutover protocol: rank candidates, probe the
// winner, redirect, drain the old adapter's in-flight packets, tear it
// down. Session and stream state are untouched (SPEC_FULL.md section
// 4.3) — only the underlying send path changes.
func (r *Registry) swap(ctx context.Context) error {
	r.mu.Lock()
	candidates := make([]PhysicalAdapter, 0, len(r.adapters))
	oldName := r.active
	for name, a := range r.adapters {
		if name != r.active {
			candidates = append(candidates, a)
		}
	}
	r.mu.Unlock()

	if len(candidates) == 0 {
		return fmt.Errorf("hot swap: no candidate adapters available")
	}

	best, err := r.rank(ctx, candidates)
	if err != nil {
		return fmt.Errorf("hot swap: %w", err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeDuration)
	defer cancel()
	if _, err := best.LinkQuality(probeCtx); err != nil {
		return fmt.Errorf("hot swap: probe candidate %s: %w", best.Name(), err)
	}

	r.mu.Lock()
	r.active = best.Name()
	old := r.adapters[oldName]
	r.mu.Unlock()

	// Drain old adapter's in-flight traffic for up to DrainTimeout,
	// then tear it down. Draining is best-effort: the old adapter
	// simply stops receiving new sends once r.active changes above.
	if old != nil {
		drainCtx, drainCancel := context.WithTimeout(ctx, r.drainWait)
		defer drainCancel()
		<-drainCtx.Done()

		if err := old.Close(); err != nil && r.logger != nil {
			r.logger.Error("close drained adapter", slog.String("adapter", oldName), slog.String("error", err.Error()))
		}
		r.mu.Lock()
		delete(r.adapters, oldName)
		r.mu.Unlock()
	}

	if r.onSwitched != nil {
		r.onSwitched(AdapterSwitched{From: oldName, To: best.Name(), At: time.Now()})
	}

	return nil
}

// rank picks the best candidate per the configured strategy.
func (r *Registry) rank(ctx context.Context, candidates []PhysicalAdapter) (PhysicalAdapter, error) {
	if r.strategy == StrategyManual {
		return candidates[0], nil
	}

	var best PhysicalAdapter
	var bestScore float64
	first := true

	for _, c := range candidates {
		lq, err := c.LinkQuality(ctx)
		if err != nil {
			continue
		}

		var score float64
		switch r.strategy {
		case StrategyHighestRSSI:
			score = lq.RSSI
		case StrategyLowestLossRate:
			score = -lq.LossRate
		case StrategyHighestBandwidth:
			score = lq.Throughput
		}

		if first || score > bestScore {
			best = c
			bestScore = score
			first = false
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no reachable candidate adapters")
	}
	return best, nil
}
