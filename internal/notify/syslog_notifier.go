package notify

import (
	"context"
	"encoding/json"

	"github.com/RackSec/srslog"

	"github.com/Stavin13/Threat-lens-sub000/pkg/threatlens"
)

// SyslogNotifier writes an EventUpdate to a remote syslog collector, the
// lowest-overhead channel for deployments that already centralize logs
// that way rather than run a dedicated notification backend.
type SyslogNotifier struct {
	writer *srslog.Writer
}

// NewSyslogNotifier dials network/raddr ("" network = local syslog) with
// the given tag.
func NewSyslogNotifier(network, raddr, tag string) (*SyslogNotifier, error) {
	w, err := srslog.Dial(network, raddr, srslog.LOG_ALERT|srslog.LOG_AUTH, tag)
	if err != nil {
		return nil, err
	}
	return &SyslogNotifier{writer: w}, nil
}

// Dispatch writes ev as a JSON payload at a syslog severity derived from
// its priority.
func (n *SyslogNotifier) Dispatch(ctx context.Context, ev threatlens.EventUpdate) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := string(body)
	switch {
	case ev.Priority <= int(threatlens.PriorityCritical):
		return n.writer.Crit(msg)
	case ev.Priority <= int(threatlens.PriorityHigh):
		return n.writer.Err(msg)
	case ev.Priority <= int(threatlens.PriorityMedium):
		return n.writer.Warning(msg)
	default:
		return n.writer.Info(msg)
	}
}

// Close closes the underlying syslog connection.
func (n *SyslogNotifier) Close() error {
	return n.writer.Close()
}
