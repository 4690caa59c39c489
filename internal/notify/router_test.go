package notify

import (
	"testing"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

func TestSelectMatchesSeverityRange(t *testing.T) {
	r := NewRouter([]Rule{
		{Name: "high_severity_alerts", Enabled: true, MinSeverity: 6, MaxSeverity: 10, Channels: []string{"pagerduty"}},
	})

	critical := threatlens.EventUpdate{Priority: int(threatlens.PriorityCritical)} // severity 10
	low := threatlens.EventUpdate{Priority: int(threatlens.PriorityLow)}           // severity 4

	if got := r.Select(critical); len(got) != 1 || got[0] != "pagerduty" {
		t.Fatalf("expected [pagerduty] for critical event, got %v", got)
	}
	if got := r.Select(low); len(got) != 0 {
		t.Fatalf("expected no channels for low-severity event, got %v", got)
	}
}

func TestSelectFiltersByCategoryAndSource(t *testing.T) {
	r := NewRouter([]Rule{
		{
			Name: "auth_only", Enabled: true, MinSeverity: 0, MaxSeverity: 10,
			Categories: []string{"authentication"}, Sources: []string{"auth.log"},
			Channels: []string{"slack"},
		},
	})

	match := threatlens.EventUpdate{
		Priority: int(threatlens.PriorityMedium),
		Payload:  map[string]interface{}{"category": "authentication", "source_name": "auth.log"},
	}
	mismatch := threatlens.EventUpdate{
		Priority: int(threatlens.PriorityMedium),
		Payload:  map[string]interface{}{"category": "network", "source_name": "firewall.log"},
	}

	if got := r.Select(match); len(got) != 1 {
		t.Fatalf("expected 1 channel for matching category/source, got %v", got)
	}
	if got := r.Select(mismatch); len(got) != 0 {
		t.Fatalf("expected 0 channels for mismatched category/source, got %v", got)
	}
}

func TestSelectThrottlesRepeatFires(t *testing.T) {
	r := NewRouter([]Rule{
		{Name: "rule", Enabled: true, MinSeverity: 0, MaxSeverity: 10, Channels: []string{"email"}, ThrottleMinutes: 60},
	})
	ev := threatlens.EventUpdate{Priority: int(threatlens.PriorityMedium)}

	if got := r.Select(ev); len(got) != 1 {
		t.Fatalf("expected first fire to select email, got %v", got)
	}
	if got := r.Select(ev); len(got) != 0 {
		t.Fatalf("expected throttled second fire to select nothing, got %v", got)
	}
}

func TestSelectDedupesChannelsAcrossRules(t *testing.T) {
	r := NewRouter([]Rule{
		{Name: "a", Enabled: true, MinSeverity: 0, MaxSeverity: 10, Channels: []string{"slack", "email"}},
		{Name: "b", Enabled: true, MinSeverity: 0, MaxSeverity: 10, Channels: []string{"email", "pagerduty"}},
	})
	got := r.Select(threatlens.EventUpdate{Priority: int(threatlens.PriorityHigh)})
	want := []string{"slack", "email", "pagerduty"}
	if len(got) != len(want) {
		t.Fatalf("Select() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Select() = %v, want %v", got, want)
		}
	}
}

func TestSeverityMapsPriorityRange(t *testing.T) {
	cases := []struct {
		p    threatlens.Priority
		want int
	}{
		{threatlens.PriorityCritical, 10},
		{threatlens.PriorityHigh, 8},
		{threatlens.PriorityMedium, 6},
		{threatlens.PriorityLow, 4},
		{threatlens.PriorityBulk, 2},
	}
	for _, c := range cases {
		if got := Severity(c.p); got != c.want {
			t.Fatalf("Severity(%v) = %d, want %d", c.p, got, c.want)
		}
	}
}
