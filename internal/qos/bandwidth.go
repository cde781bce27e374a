package qos

import "golang.org/x/time/rate"

// Band identifies one of the three bandwidth bands priorities are
// grouped into (SPEC_FULL.md section 4.4: "weights are normalized to a
// three-band split (default 25% / 60% / 15% across low/mid/high
// priority bands)").
type Band uint8

const (
	BandLow Band = iota
	BandMid
	BandHigh
	bandCount
)

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMid:
		return "mid"
	case BandHigh:
		return "high"
	default:
		return "unknown"
	}
}

// DefaultBandShares is the default 25/60/15 split named in
// SPEC_FULL.md section 4.4 and spec.md's "bandwidth_bands" config
// field.
var DefaultBandShares = [bandCount]float64{BandLow: 0.25, BandMid: 0.60, BandHigh: 0.15}

// defaultPriorityBand assigns each of the 8 priority classes to one of
// the three bands. spec.md does not name an exact boundary between
// priority classes and bands, so this resolves that gap the way a
// three-way split over an 8-point scale naturally falls: low=0-2,
// mid=3-5, high=6-7 (documented as an Open Question resolution in
// DESIGN.md).
var defaultPriorityBand = [8]Band{
	0: BandLow, 1: BandLow, 2: BandLow,
	3: BandMid, 4: BandMid, 5: BandMid,
	6: BandHigh, 7: BandHigh,
}

// bandForPriority maps a priority class to its bandwidth band.
func bandForPriority(priority uint8) Band {
	if int(priority) >= len(defaultPriorityBand) {
		return BandHigh
	}
	return defaultPriorityBand[priority]
}

// newBandLimiters builds one token-bucket limiter per band from a
// total bandwidth budget (bytes/sec) and the band shares, grounded on
// golang.org/x/time/rate as used for per-flow rate limiting in the
// WireGuard-go manifest (the pack's one packetized-transport repo that
// performs this kind of accounting). Burst is set to the share of one
// maximum-size packet so a single max-size packet can always clear
// once admitted, rather than being perpetually starved by a too-small
// bucket.
func newBandLimiters(totalBytesPerSec float64, shares [bandCount]float64, maxPacketBytes int) [bandCount]*rate.Limiter {
	var limiters [bandCount]*rate.Limiter
	for b := range limiters {
		share := shares[b] * totalBytesPerSec
		burst := maxPacketBytes
		if burst < 1 {
			burst = 1
		}
		limiters[b] = rate.NewLimiter(rate.Limit(share), burst)
	}
	return limiters
}
