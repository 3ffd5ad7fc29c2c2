package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// snapshotMetrics collects timings for one bulk read and logs them as a
// single structured entry.
type snapshotMetrics struct {
	logger         *log.Logger
	start          time.Time
	fetchDuration  time.Duration
	encodeDuration time.Duration
	tasksReturned  int
	seq            int64
	errorStage     string
}

func newSnapshotMetrics(logger *log.Logger) *snapshotMetrics {
	return &snapshotMetrics{logger: logger, start: time.Now()}
}

func (m *snapshotMetrics) ObserveFetch(d time.Duration) {
	if d > 0 {
		m.fetchDuration = d
	}
}

func (m *snapshotMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *snapshotMetrics) SetResult(tasks int, seq int64) {
	m.tasksReturned = tasks
	m.seq = seq
}

func (m *snapshotMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *snapshotMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":          "/api/tasks",
		"status":         status,
		"total_ms":       durationToMillis(time.Since(m.start)),
		"tasks_returned": m.tasksReturned,
		"seq":            m.seq,
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	entry := m.logger.WithFields(fields)
	if status >= 500 || err != nil {
		entry.Error("tasks.request.metrics")
		return
	}
	entry.Info("tasks.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
