package monitor

import (
	"context"

	"github.com/rs/zerolog"

	"trading-authority/internal/events"
)

// EventSink receives every bus event the monitor observes.
type EventSink func(e events.Event, payload any)

// Monitor fans bus events into sinks (logging, health, gauges).
type Monitor struct {
	Bus    *events.Bus
	Logger zerolog.Logger
	Sinks  []EventSink
}

// Start subscribes to every event and dispatches until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		m.Logger.Warn().Msg("monitor has no bus; skipping")
		return
	}
	for _, e := range events.All {
		stream, unsub := m.Bus.Subscribe(e, 64)
		go m.run(ctx, e, stream, unsub)
	}
}

func (m *Monitor) run(ctx context.Context, e events.Event, stream <-chan any, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-stream:
			if !ok {
				return
			}
			for _, sink := range m.Sinks {
				sink(e, payload)
			}
		}
	}
}

// LogSink logs each event at info level. Payloads never carry secret values.
func LogSink(logger zerolog.Logger) EventSink {
	return func(e events.Event, payload any) {
		logger.Info().Str("event", string(e)).Interface("payload", payload).Msg("event")
	}
}

// VersionSink keeps the configuration_version gauge current from bus payloads.
func VersionSink(m *Metrics) EventSink {
	return func(_ events.Event, payload any) {
		switch p := payload.(type) {
		case events.ModeSwitched:
			m.SetConfigVersion(p.Version)
			m.ModeSwitched(string(p.To))
		case events.ConfigChanged:
			m.SetConfigVersion(p.Version)
		case events.StatusChanged:
			m.SetConfigVersion(p.Status.ConfigurationVersion)
		}
	}
}
