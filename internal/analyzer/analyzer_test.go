package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

func TestPassthroughPreservesEntryID(t *testing.T) {
	entry := threatlens.NewLogEntry("auth", "/var/log/auth.log", "login ok", time.Now(), threatlens.PriorityMedium, 0)

	result, err := Passthrough(context.Background(), entry)
	if err != nil {
		t.Fatalf("Passthrough: %v", err)
	}
	if result.EntryID != entry.EntryID {
		t.Fatalf("EntryID = %q, want %q", result.EntryID, entry.EntryID)
	}
	if len(result.Detections) != 0 {
		t.Fatalf("expected no detections, got %v", result.Detections)
	}
}
