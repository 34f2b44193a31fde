package storefront

import (
	"testing"

	"storefront/internal/metrics"
)

func TestStatsCollector(t *testing.T) {
	s := newStatsCollector()
	if ss := s.Snapshot(); ss.Fetches != 0 || ss.MinPayload != 0 {
		t.Fatalf("empty snapshot: %+v", ss)
	}
	for _, n := range []int{300, 100, 200} {
		s.ObservePayload(n)
	}
	s.ObserveOutcome(metrics.OutcomeFresh)
	s.ObserveOutcome(metrics.OutcomeCached)
	s.ObserveOutcome(metrics.OutcomeCached)

	ss := s.Snapshot()
	if ss.Fetches != 3 || ss.MinPayload != 100 || ss.MaxPayload != 300 || ss.AvgPayload != 200 {
		t.Fatalf("payload stats: %+v", ss)
	}
	if ss.Fresh != 1 || ss.Cached != 2 || ss.Failed != 0 {
		t.Fatalf("outcomes: %+v", ss)
	}
}
