package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/vfrnav/vfrnav/pkg/config"
	"github.com/vfrnav/vfrnav/pkg/logger"
	"github.com/vfrnav/vfrnav/pkg/protocol"
)

// Broadcaster sends a message to every connected panel.
type Broadcaster interface {
	Broadcast(msg protocol.Message) int
}

// MetarPoller asks the panels for fresh weather on a cron schedule. The
// simulator-side panel answers each GetMetar with a Metar that the hub
// relays back to the others.
type MetarPoller struct {
	expr     string
	airports []string
	out      Broadcaster
	now      func() time.Time
}

// NewMetarPoller validates the schedule and airport list.
func NewMetarPoller(cfg config.MetarConfig, out Broadcaster) (*MetarPoller, error) {
	expr := strings.TrimSpace(cfg.Schedule)
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("metar schedule %q is not a valid cron expression", cfg.Schedule)
	}
	airports := make([]string, 0, len(cfg.Airports))
	for _, a := range cfg.Airports {
		if a = strings.ToUpper(strings.TrimSpace(a)); a != "" {
			airports = append(airports, a)
		}
	}
	return &MetarPoller{
		expr:     expr,
		airports: airports,
		out:      out,
		now:      time.Now,
	}, nil
}

// Next returns the first tick strictly after ref.
func (p *MetarPoller) Next(ref time.Time) (time.Time, error) {
	return gronx.NextTickAfter(p.expr, ref, false)
}

// Run polls on every tick until ctx ends.
func (p *MetarPoller) Run(ctx context.Context) {
	logger.InfoCF("metar", "Metar poller started", map[string]interface{}{
		"schedule": p.expr,
		"airports": len(p.airports),
	})
	for {
		next, err := p.Next(p.now())
		if err != nil {
			logger.ErrorCF("metar", "No next tick", map[string]interface{}{
				"schedule": p.expr,
				"error":    err.Error(),
			})
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.Poll()
		}
	}
}

// Poll broadcasts one GetMetar per airport and returns how many were sent
// to at least one panel.
func (p *MetarPoller) Poll() int {
	sent := 0
	for _, icao := range p.airports {
		if p.out.Broadcast(protocol.GetMetar{ICAO: icao}) > 0 {
			sent++
		}
	}
	logger.DebugCF("metar", "Metar poll", map[string]interface{}{
		"airports": len(p.airports),
		"sent":     sent,
	})
	return sent
}
