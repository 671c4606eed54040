package scheduler

import (
	"testing"
	"time"
)

func TestReconcileSpec(t *testing.T) {
	tests := []struct {
		name       string
		staleAfter time.Duration
		want       string
	}{
		{
			"Third of the staleness window",
			15 * time.Minute,
			"@every 5m0s",
		},
		{
			"Clamped to the minimum",
			90 * time.Second,
			"@every 1m0s",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := &Scheduler{staleAfter: test.staleAfter}

			if got := s.ReconcileSpec(); got != test.want {
				t.Fatalf("expected spec %q, got %q", test.want, got)
			}
		})
	}
}
