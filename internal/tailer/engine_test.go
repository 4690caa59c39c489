package tailer

import (
	"sync"
	"testing"
	"time"

	"github.com/Stavin13/Threat-lens-sub000/internal/config"
	"github.com/Stavin13/Threat-lens-sub000/internal/tailer/testutil"
	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

func testTailingConfig() config.Tailing {
	return config.Tailing{
		PollingInterval: 20 * time.Millisecond,
	}
}

func TestEngineTailsNewLines(t *testing.T) {
	dir := testutil.TestTempDir(t)
	path := dir + "/audit.log"
	f := testutil.OpenLogFile(t, path)

	e := New(testTailingConfig(), nil)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	e.SetConsumer(func(entry *threatlens.LogEntry) error {
		mu.Lock()
		got = append(got, entry.Content)
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			close(done)
		}
		return nil
	})

	if err := e.AddSource(threatlens.LogSource{
		Name:     "audit",
		Path:     path,
		Kind:     threatlens.SourceKindFile,
		Enabled:  true,
		Priority: threatlens.PriorityHigh,
	}); err != nil {
		t.Fatalf("AddSource: %v", err)
	}

	testutil.WriteString(t, f, "first line\n")
	testutil.WriteString(t, f, "second line\n")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tailed lines")
	}

	e.Shutdown(time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(got) < 2 {
		t.Fatalf("expected at least 2 entries, got %d: %v", len(got), got)
	}
	if got[0] != "first line" || got[1] != "second line" {
		t.Fatalf("unexpected content: %v", got)
	}
}

func TestEngineRejectsDuplicateSourceName(t *testing.T) {
	dir := testutil.TestTempDir(t)
	path := dir + "/audit.log"
	testutil.OpenLogFile(t, path)

	e := New(testTailingConfig(), nil)
	src := threatlens.LogSource{Name: "audit", Path: path, Kind: threatlens.SourceKindFile, Enabled: true}
	if err := e.AddSource(src); err != nil {
		t.Fatalf("AddSource: %v", err)
	}
	if err := e.AddSource(src); err != threatlens.ErrSourceExists {
		t.Fatalf("expected ErrSourceExists, got %v", err)
	}
	e.Shutdown(time.Second)
}

func TestEngineHealthCheckHealthyWithNoSources(t *testing.T) {
	e := New(testTailingConfig(), nil)
	hc := e.HealthCheck()
	if hc.Status != threatlens.HealthHealthy {
		t.Fatalf("expected healthy with no sources, got %v", hc.Status)
	}
}
