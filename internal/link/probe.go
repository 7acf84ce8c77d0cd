package link

import (
	"context"
	"net"
	"time"
)

// ProbeRadio is used on hosts whose link is owned by the operating system
// (wired or pre-joined). The link counts as associated while a TCP dial to
// the probe target succeeds.
type ProbeRadio struct {
	target  string
	timeout time.Duration
	dial    func(ctx context.Context, network, address string) (net.Conn, error)

	lastLatency time.Duration
}

func NewProbeRadio(target string, timeout time.Duration) *ProbeRadio {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	return &ProbeRadio{target: target, timeout: timeout, dial: d.DialContext}
}

// Associate is a no-op: joining the network is the operating system's job.
func (r *ProbeRadio) Associate(context.Context, Identity) error {
	return nil
}

func (r *ProbeRadio) Associated(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	conn, err := r.dial(ctx, "tcp", r.target)
	if err != nil {
		return false
	}
	r.lastLatency = time.Since(started)
	_ = conn.Close()
	return true
}

func (r *ProbeRadio) Disassociate(context.Context) error {
	return nil
}

func (r *ProbeRadio) Describe(context.Context) []any {
	return []any{"probe_target", r.target, "latency_ms", r.lastLatency.Milliseconds()}
}
