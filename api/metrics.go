package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// requestMetrics accumulates per-request timings and emits one structured
// log line when the request finishes.
type requestMetrics struct {
	logger        *log.Logger
	start         time.Time
	operation     string
	storeDuration time.Duration
	tasksReturned int
	errorStage    string
}

func newRequestMetrics(logger *log.Logger, operation string) *requestMetrics {
	return &requestMetrics{
		logger:    logger,
		start:     time.Now(),
		operation: operation,
	}
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration = duration
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"operation":     m.operation,
		"status":        status,
		"durationMs":    time.Since(m.start).Milliseconds(),
		"storeMs":       m.storeDuration.Milliseconds(),
		"tasksReturned": m.tasksReturned,
	}
	if m.errorStage != "" {
		fields["errorStage"] = m.errorStage
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn("request failed")
		return
	}
	entry.Debug("request served")
}
