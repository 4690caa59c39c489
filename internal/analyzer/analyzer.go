// Package analyzer defines the boundary between the Priority Ingestion
// Queue and the analysis stage. spec.md treats AI/ML analyzer content as
// deliberately out of scope, "an opaque Analyzer function returning
// AnalysisResult" — this package is exactly that boundary and nothing
// more: no detection logic lives here.
package analyzer

import (
	"context"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// Detection is one finding an Analyzer attaches to a LogEntry. Its
// fields are intentionally generic: what counts as a "rule" or a
// "severity" is analyzer content, external to this core.
type Detection struct {
	Rule        string
	Severity    int
	Description string
}

// AnalysisResult is what an Analyzer produces for one LogEntry.
type AnalysisResult struct {
	EntryID    string
	Detections []Detection
	Score      float64
}

// Analyzer is the opaque analysis function the Priority Ingestion
// Queue's batch processor calls into. Its concrete implementation (rule
// engine, ML model, whatever) is an external collaborator.
type Analyzer func(ctx context.Context, entry *threatlens.LogEntry) (AnalysisResult, error)

// Passthrough is a trivial Analyzer that scores nothing and finds
// nothing. It exists so the queue→analyzer→bus pipeline can be wired end
// to end (tests, local runs) without a real analyzer plugged in.
func Passthrough(_ context.Context, entry *threatlens.LogEntry) (AnalysisResult, error) {
	return AnalysisResult{EntryID: entry.EntryID}, nil
}
