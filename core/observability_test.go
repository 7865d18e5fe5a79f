package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

func TestObserver_ObserveSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver(logger, metrics)

	observer.Observe(
		context.Background(),
		time.Now().UTC().Add(-10*time.Millisecond),
		"deadline processed",
		nil,
		map[string]any{"dealId": "deal_1", "jobId": "deadline:deal_1:1700000000:delivery:0"},
	)

	if !hasCounter(metrics.counters, "escrow.deadline_processed.total", "success") {
		t.Fatalf("expected success counter, got %#v", metrics.counters)
	}
	if !hasHistogram(metrics.histograms, "escrow.deadline_processed.duration_ms", "success") {
		t.Fatalf("expected duration histogram, got %#v", metrics.histograms)
	}
	if !hasLog(logger.snapshot(), "info", "deadline_processed succeeded", "deadline_processed") {
		t.Fatalf("expected success log line")
	}
}

func TestObserver_ObserveFailure(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	observer := NewObserver(logger, metrics)

	observer.Observe(
		context.Background(),
		time.Now().UTC(),
		"reminder-processed",
		DependencyError("notify: notifier is not configured"),
		map[string]any{"dealId": "deal_2"},
	)

	if !hasCounter(metrics.counters, "escrow.reminder_processed.total", "failure") {
		t.Fatalf("expected failure counter, got %#v", metrics.counters)
	}
	if !hasLog(logger.snapshot(), "error", "reminder_processed failed", "reminder_processed") {
		t.Fatalf("expected failure log line")
	}
}

func TestObserver_RedactsSensitiveFieldsBeforeLogging(t *testing.T) {
	logger := newCaptureLogger()
	observer := NewObserver(logger, NopMetricsRecorder{})

	observer.LogInfo(context.Background(), "webhook accepted", map[string]any{
		"dealId":    "deal_3",
		"signature": "abcdef0123456789",
	})

	records := logger.snapshot()
	if len(records) != 1 {
		t.Fatalf("expected one log record, got %d", len(records))
	}
	if records[0].fields["signature"] != RedactedValue {
		t.Fatalf("expected signature to be redacted, got %#v", records[0].fields["signature"])
	}
	if records[0].fields["dealId"] != "deal_3" {
		t.Fatalf("expected dealId to survive redaction, got %#v", records[0].fields["dealId"])
	}
}

func TestObserver_NilObserverIsSafe(t *testing.T) {
	var observer *Observer
	observer.Observe(context.Background(), time.Now(), "noop", nil, nil)
	observer.LogInfo(context.Background(), "noop", nil)
	observer.LogError(context.Background(), "noop", nil)
}

func hasCounter(items []capturedCounter, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(items []capturedHistogram, name string, status string) bool {
	for _, item := range items {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(items []capturedLog, level string, message string, eventType string) bool {
	for _, item := range items {
		if item.level != level {
			continue
		}
		if item.msg != message {
			continue
		}
		if item.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}
