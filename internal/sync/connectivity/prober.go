package connectivity

import (
	"context"
	"net/http"
	"time"

	"github.com/fittrack/backend/internal/logging"
)

// Prober drives a Switch from periodic HTTP requests against a health URL.
// Any response below 500 counts as reachable.
type Prober struct {
	*Switch

	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
}

// NewProber creates a Prober. It starts offline until the first probe.
func NewProber(url string, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		Switch:   NewSwitch(false),
		url:      url,
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

// Probe performs one reachability check and updates the signal.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err == nil {
		resp, err := p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = resp.StatusCode < http.StatusInternalServerError
		}
	}

	if p.Set(online) {
		logging.Info("Connectivity changed", map[string]interface{}{
			"online": online,
			"url":    p.url,
		})
	}
	return online
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
