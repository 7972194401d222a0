package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"relayctl/internal/metrics"
)

// TestMetricCollectorsNonNil verifies all package-level metric variables
// are non-nil and pass Prometheus linting rules.
func TestMetricCollectorsNonNil(t *testing.T) {
	tests := []struct {
		name string
		c    prometheus.Collector
	}{
		{"SyncPasses", metrics.SyncPasses},
		{"SyncOps", metrics.SyncOps},
		{"SyncDuration", metrics.SyncDuration},
		{"SubmissionsCoalesced", metrics.SubmissionsCoalesced},
		{"AppliedRules", metrics.AppliedRules},
		{"BlockedRegions", metrics.BlockedRegions},
		{"ProbesSent", metrics.ProbesSent},
		{"ProbesLost", metrics.ProbesLost},
		{"ProbeRTT", metrics.ProbeRTT},
		{"ProbeLossRatio", metrics.ProbeLossRatio},
		{"DirectoryServers", metrics.DirectoryServers},
		{"DirectoryRefreshes", metrics.DirectoryRefreshes},
		{"DBSizeBytes", metrics.DBSizeBytes},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.c == nil {
				t.Fatal("collector is nil")
			}
			lintErrs, err := testutil.CollectAndLint(tc.c)
			if err != nil {
				t.Errorf("CollectAndLint gather error: %v", err)
			}
			if len(lintErrs) > 0 {
				t.Errorf("prometheus lint errors: %v", lintErrs)
			}
		})
	}
}
