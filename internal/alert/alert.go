// Package alert fans run failures and operational events out to chat
// webhooks.
package alert

import (
	"context"
	"strconv"
	"sync"
	"time"

	"tradeloop/internal/core"
	"tradeloop/pkg/concurrency"
)

type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

// Payload is one alert event.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers an alert to one destination.
type Channel interface {
	Send(ctx context.Context, alert Payload) error
	Name() string
}

// Manager dispatches alerts to all registered channels through a worker
// pool, so the trading path never blocks on a slow webhook.
type Manager struct {
	channels []Channel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewManager(pool *concurrency.WorkerPool, logger core.ILogger) *Manager {
	return &Manager{
		pool:   pool,
		logger: logger.WithField("component", "alert"),
	}
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// Alert dispatches to every channel, fire-and-forget. Delivery failures are
// logged, never returned.
func (m *Manager) Alert(ctx context.Context, title, message string, level Level, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	for _, ch := range channels {
		ch := ch
		err := m.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := ch.Send(sendCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", ch.Name(), "error", err)
			}
		})
		if err != nil {
			m.logger.Warn("Alert dropped, dispatch pool full", "channel", ch.Name(), "title", title)
		}
	}
}

// RunFailed is the standard alert for a failed scheduler run.
func (m *Manager) RunFailed(ctx context.Context, kind core.RunKind, runID int64, runErr error) {
	m.Alert(ctx, "Run failed", runErr.Error(), Error, map[string]string{
		"kind":   string(kind),
		"run_id": strconv.FormatInt(runID, 10),
	})
}
