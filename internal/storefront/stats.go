package storefront

import (
	"math"
	"sync/atomic"

	"storefront/internal/metrics"
)

type statsCollector struct {
	fetches      atomic.Uint64
	payloadBytes atomic.Uint64
	minPayload   atomic.Uint64
	maxPayload   atomic.Uint64

	fresh  atomic.Uint64
	cached atomic.Uint64
	failed atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minPayload.Store(math.MaxUint64)
	return s
}

// ObservePayload records the body size of a successful fetch.
func (s *statsCollector) ObservePayload(n int) {
	if n < 0 {
		n = 0
	}
	v := uint64(n)
	s.fetches.Add(1)
	s.payloadBytes.Add(v)

	for {
		cur := s.minPayload.Load()
		if v >= cur || s.minPayload.CompareAndSwap(cur, v) {
			break
		}
	}
	for {
		cur := s.maxPayload.Load()
		if v <= cur || s.maxPayload.CompareAndSwap(cur, v) {
			break
		}
	}
}

func (s *statsCollector) ObserveOutcome(outcome string) {
	switch outcome {
	case metrics.OutcomeFresh:
		s.fresh.Add(1)
	case metrics.OutcomeCached:
		s.cached.Add(1)
	case metrics.OutcomeFailed:
		s.failed.Add(1)
	}
}

type statsSnapshot struct {
	Fresh, Cached, Failed uint64

	Fetches    uint64
	MinPayload uint64
	AvgPayload uint64
	MaxPayload uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		Fresh:  s.fresh.Load(),
		Cached: s.cached.Load(),
		Failed: s.failed.Load(),
	}
	count := s.fetches.Load()
	if count == 0 {
		return out
	}
	out.Fetches = count
	out.MinPayload = s.minPayload.Load()
	if out.MinPayload == math.MaxUint64 {
		out.MinPayload = 0
	}
	out.MaxPayload = s.maxPayload.Load()
	out.AvgPayload = s.payloadBytes.Load() / count
	return out
}
