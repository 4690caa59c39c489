package health

import "testing"

func TestAvgOfComputesMean(t *testing.T) {
	samples := []sample{{cpuPercent: 80}, {cpuPercent: 100}}
	if got := avgCPU(samples); got != 90 {
		t.Fatalf("avgCPU = %v, want 90", got)
	}
}

func TestSystemSamplerLastNCapsAtWindowSize(t *testing.T) {
	s := newSystemSampler(2, "/")
	s.take()
	s.take()
	s.take()
	if got := len(s.lastN(10)); got != 2 {
		t.Fatalf("expected window capped at 2, got %d", got)
	}
}
