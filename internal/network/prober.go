package network

import (
	"context"
	"net/http"
	"time"

	"github.com/kimhsiao/storysync/internal/logging"
)

// ProbeConfig configures a Prober.
type ProbeConfig struct {
	// URL receives a HEAD request on every probe.
	URL string
	// Interval between probes. Defaults to 15s.
	Interval time.Duration
	// Timeout of a single probe. Defaults to 5s.
	Timeout time.Duration
}

// Prober feeds a Monitor by periodically checking that the remote service
// answers. Any HTTP response counts as online: a server returning an error
// is reachable.
type Prober struct {
	monitor *Monitor
	cfg     ProbeConfig
	client  *http.Client
}

// NewProber creates a Prober. A nil client uses http.DefaultClient's
// transport.
func NewProber(monitor *Monitor, cfg ProbeConfig, client *http.Client) *Prober {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Prober{
		monitor: monitor,
		cfg:     cfg,
		client:  client,
	}
}

// Probe reports whether the configured URL answered within the timeout.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.URL, nil)
	if err != nil {
		logging.Warn("Invalid probe URL", map[string]interface{}{
			"url":   p.cfg.URL,
			"error": err.Error(),
		})
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		logging.Debug("Connectivity probe failed", map[string]interface{}{
			"url":   p.cfg.URL,
			"error": err.Error(),
		})
		return false
	}
	resp.Body.Close()
	return true
}

// Check probes once and updates the monitor. It returns the probed state.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.Probe(ctx)
	if ctx.Err() != nil {
		return p.monitor.IsOnline()
	}
	p.monitor.Set(online)
	return online
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	logging.Info("Connectivity prober started", map[string]interface{}{
		"url":      p.cfg.URL,
		"interval": p.cfg.Interval.String(),
	})

	p.Check(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Info("Connectivity prober stopped", nil)
			return nil
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
