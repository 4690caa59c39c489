package tailer

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// enableWatcher starts the engine's fsnotify-backed edge-triggered change
// detector (spec §4.1's first of two cooperating mechanisms; the
// per-source ticker in runSource is the polling floor). It is optional:
// an engine with no watcher still works correctly off polling alone.
func (e *Engine) enableWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	e.watcher = w
	e.wg.Add(1)
	go e.watchLoop()
	return nil
}

func (e *Engine) watchLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			_ = e.watcher.Close()
			return
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			e.wakeSourceFor(ev.Name)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn.Printf("tailer: watcher error: %v", err)
		}
	}
}

// watchSourcePath registers a path (or its parent directory, for
// directory sources) with the fsnotify watcher, if one is enabled.
func (e *Engine) watchSourcePath(path string, isDir bool) {
	if e.watcher == nil {
		return
	}
	target := path
	if !isDir {
		target = filepath.Dir(path)
	}
	if err := e.watcher.Add(target); err != nil {
		logger.Trace.Printf("tailer: watch %s failed, falling back to polling: %v", target, err)
	}
}

// wakeSourceFor finds the source owning the changed path and triggers an
// immediate poll instead of waiting for its ticker, bounded to at most
// once per event (no coalescing beyond what fsnotify itself coalesces).
func (e *Engine) wakeSourceFor(changed string) {
	for item := range e.sources.IterBuffered() {
		st := item.Val.(*sourceState)
		st.mu.Lock()
		matches := st.source.Path == changed
		if st.source.Kind == threatlens.SourceKindDirectory {
			matches = filepath.Dir(changed) == filepath.Clean(st.source.Path) || matches
		}
		st.mu.Unlock()
		if matches {
			go e.pollOnce(item.Key, st)
		}
	}
}
