// Package logline provides the data structure for one decoded log line
// en route from a logstream to the engine that turns it into a LogEntry.
// Adapted from the teacher's driver/log/logline package (itself adapted
// from https://github.com/google/mtail/tree/main/internal).
package logline

import "context"

// LogLine contains all the information about a line just read from a log,
// before it is assigned a priority and turned into a
// threatlens.LogEntry.
type LogLine struct {
	Context context.Context

	Filename string // source path this line was read from
	Line     string // line text, newline already stripped
	Offset   int64  // byte offset of the END of this line in the source file
}

// New creates a new LogLine.
func New(ctx context.Context, filename, line string, offset int64) *LogLine {
	return &LogLine{Context: ctx, Filename: filename, Line: line, Offset: offset}
}
