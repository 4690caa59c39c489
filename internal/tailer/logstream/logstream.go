// Package logstream implements the per-source read algorithm of spec
// §4.1: detect growth/rotation/truncation for one monitored file and turn
// newly appended bytes into logline.LogLine values, holding back a
// trailing partial line until it's completed or has gone stale.
// Adapted from the teacher's driver/log/tailer/logstream package (itself
// adapted from https://github.com/google/mtail/tree/main/internal).
package logstream

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sysflow-telemetry/sf-apis/go/logger"

	"github.com/Stavin13/Threat-lens-sub000/internal/tailer/logline"
)

// ErrUnsupportedFileType is returned by NewReader for a path that isn't a
// regular file (spec §3: Kind FILE/DIRECTORY only, directories are
// expanded to per-file Readers by the engine, never read directly).
var ErrUnsupportedFileType = fmt.Errorf("logstream: unsupported file type")

// Reader tails one regular file. Callers must serialize calls to Poll for
// a given Reader — the engine does this per source, per spec §5's
// single-writer-per-source shared-resource policy.
type Reader struct {
	Pathname string

	lastOffset   int64 // offset up to which complete (newline-terminated) lines have been consumed
	knownSize    int64
	partialSince time.Time // zero if there is no pending partial tail
	rotations    int
}

// NewReader builds a Reader for pathname. If streamFromStart is false
// (the normal case — spec §4.1 "do NOT replay history on startup"), the
// reader's effective starting offset is the file's current size. A
// nonzero priorOffset (loaded from a checkpoint) takes precedence over
// both.
func NewReader(pathname string, streamFromStart bool, priorOffset int64) (*Reader, error) {
	fi, err := os.Stat(pathname)
	if err != nil {
		return nil, err
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, pathname)
	}
	r := &Reader{Pathname: pathname, knownSize: fi.Size()}
	switch {
	case priorOffset > 0:
		r.lastOffset = priorOffset
	case streamFromStart:
		r.lastOffset = 0
	default:
		r.lastOffset = fi.Size()
	}
	return r, nil
}

// LastOffset returns the byte offset up to which this reader has
// consumed the file.
func (r *Reader) LastOffset() int64 { return r.lastOffset }

// KnownSize returns the file size as of the last Poll.
func (r *Reader) KnownSize() int64 { return r.knownSize }

// PollResult reports what one Poll call observed.
type PollResult struct {
	LinesEmitted int
	Rotated      bool
	BytesRead    int64
}

// Poll implements the read algorithm of spec §4.1: stat the file, detect
// rotation/truncation, read the new delta (which includes any
// previously-held partial tail, since that tail was never consumed past),
// split it into complete lines, and call emit for each in order. A
// trailing line with no newline is held rather than emitted, unless it
// has been sitting unterminated for at least maxPartialHold.
func (r *Reader) Poll(emit func(*logline.LogLine) error, maxPartialHold time.Duration) (PollResult, error) {
	var res PollResult

	fi, err := os.Stat(r.Pathname)
	if err != nil {
		return res, err
	}
	sz := fi.Size()

	if sz < r.lastOffset {
		logger.Info.Printf("logstream: %s rotated/truncated (size %d < offset %d)", r.Pathname, sz, r.lastOffset)
		r.lastOffset = 0
		r.knownSize = 0
		r.partialSince = time.Time{}
		r.rotations++
		res.Rotated = true
	}

	if sz == r.lastOffset {
		r.knownSize = sz
		return res, nil
	}

	f, err := os.Open(r.Pathname)
	if err != nil {
		return res, err
	}
	defer f.Close()

	if _, err := f.Seek(r.lastOffset, io.SeekStart); err != nil {
		return res, err
	}
	toRead := sz - r.lastOffset
	buf := make([]byte, toRead)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return res, err
	}
	buf = buf[:n]

	base := r.lastOffset
	consumed, lines := splitComplete(buf)
	pos := 0
	for _, line := range lines {
		pos += bytes.IndexByte(buf[pos:], '\n') + 1
		end := base + int64(pos)
		if err := emit(logline.New(nil, r.Pathname, line, end)); err != nil {
			return res, err
		}
		r.lastOffset = end
		res.LinesEmitted++
	}
	res.BytesRead = int64(consumed)

	remainder := buf[consumed:]
	switch {
	case len(remainder) == 0:
		r.partialSince = time.Time{}
	case r.partialSince.IsZero():
		r.partialSince = time.Now()
	case maxPartialHold > 0 && time.Since(r.partialSince) >= maxPartialHold:
		end := r.lastOffset + int64(len(remainder))
		if err := emit(logline.New(nil, r.Pathname, string(remainder), end)); err != nil {
			return res, err
		}
		r.lastOffset = end
		res.LinesEmitted++
		r.partialSince = time.Time{}
	}

	r.knownSize = sz
	return res, nil
}

// splitComplete splits buf on '\n', stripping a trailing '\r', and
// returns the number of bytes that form complete lines plus the lines
// themselves. Any bytes after the final '\n' are left for the caller to
// treat as a (possibly still-partial) tail.
func splitComplete(buf []byte) (consumed int, lines []string) {
	start := 0
	for i, b := range buf {
		if b == '\n' {
			line := bytes.TrimSuffix(buf[start:i], []byte{'\r'})
			lines = append(lines, string(line))
			start = i + 1
			consumed = start
		}
	}
	return consumed, lines
}
