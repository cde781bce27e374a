package transport

import (
	"context"
	"testing"
	"time"
)

type fakeAdapter struct {
	name string
	lq   LinkQuality
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Send(ctx context.Context, packet []byte) error { return nil }
func (f *fakeAdapter) Recv(ctx context.Context) ([]byte, error) { return nil, nil }
func (f *fakeAdapter) LinkQuality(ctx context.Context) (LinkQuality, error) { return f.lq, nil }
func (f *fakeAdapter) SetPowerMode(ctx context.Context, mode PowerMode) error { return nil }
func (f *fakeAdapter) Close() error { return nil }

func TestRegistry_RankHighestRSSI(t *testing.T) {
	r := NewRegistry(StrategyHighestRSSI, 0.1, nil, nil)

	wifi := &fakeAdapter{name: "wifi", lq: LinkQuality{RSSI: -70}}
	cell := &fakeAdapter{name: "5g", lq: LinkQuality{RSSI: -50}}

	r.Register(wifi)
	r.Register(cell)

	best, err := r.rank(context.Background(), []PhysicalAdapter{wifi, cell})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if best.Name() != "5g" {
		t.Fatalf("expected 5g (higher RSSI), got %s", best.Name())
	}
}

func TestRegistry_RankLowestLossRate(t *testing.T) {
	r := NewRegistry(StrategyLowestLossRate, 0.1, nil, nil)

	wifi := &fakeAdapter{name: "wifi", lq: LinkQuality{LossRate: 0.4}}
	cell := &fakeAdapter{name: "5g", lq: LinkQuality{LossRate: 0.01}}

	best, err := r.rank(context.Background(), []PhysicalAdapter{wifi, cell})
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if best.Name() != "5g" {
		t.Fatalf("expected 5g (lower loss), got %s", best.Name())
	}
}

func TestRegistry_SwapEmitsAdapterSwitched(t *testing.T) {
	var switched AdapterSwitched
	r := NewRegistry(StrategyHighestBandwidth, 0.1, nil, func(as AdapterSwitched) {
		switched = as
	})
	r.drainWait = time.Millisecond

	wifi := &fakeAdapter{name: "wifi", lq: LinkQuality{Throughput: 100, LossRate: 0.4}}
	cell := &fakeAdapter{name: "5g", lq: LinkQuality{Throughput: 900}}
	r.Register(wifi)
	r.Register(cell)

	if err := r.swap(context.Background()); err != nil {
		t.Fatalf("swap: %v", err)
	}

	if switched.From != "wifi" || switched.To != "5g" {
		t.Fatalf("expected switch wifi->5g, got %+v", switched)
	}
	if r.Active().Name() != "5g" {
		t.Fatalf("expected active adapter 5g, got %s", r.Active().Name())
	}
}
