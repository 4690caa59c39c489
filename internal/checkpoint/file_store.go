package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
	"github.com/sysflow-telemetry/sf-apis/go/logger"
)

// FileStore persists checkpoints as one snappy-compressed JSON document
// per process, the simplest of spec §6's "key-value file or table"
// options and the one used when no database is configured.
type FileStore struct {
	path string

	mu      sync.Mutex
	offsets map[string]Offset
}

// NewFileStore opens (or creates) a checkpoint file at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, offsets: make(map[string]Offset)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return err
	}
	var stored map[string]Offset
	if err := json.Unmarshal(decoded, &stored); err != nil {
		return err
	}
	f.offsets = stored
	return nil
}

// Save writes o into the in-memory map and flushes the whole snapshot to
// disk. Called at least every CheckpointInterval and on graceful
// shutdown, per spec §6.
func (f *FileStore) Save(_ context.Context, o Offset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offsets[o.SourceName] = o
	return f.flushLocked()
}

func (f *FileStore) flushLocked() error {
	raw, err := json.Marshal(f.offsets)
	if err != nil {
		return err
	}
	compressed := snappy.Encode(nil, raw)
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Load returns the checkpointed Offset for sourceName, if any. Per spec
// §6: "if a file's current size < persisted LastOffset, treat as
// rotation" is the caller's (the tailer's) responsibility to apply; Load
// only returns what was last saved.
func (f *FileStore) Load(_ context.Context, sourceName string) (Offset, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.offsets[sourceName]
	return o, ok, nil
}

// Close flushes any pending state. FileStore has none buffered beyond
// what Save already wrote, so Close is a no-op that exists to satisfy
// Store.
func (f *FileStore) Close(context.Context) error {
	logger.Trace.Println("checkpoint: file store closed")
	return nil
}
