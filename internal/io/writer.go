package io

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/williampepple1/lead-tracker/pkg/models"
)

// ReportWriter writes session reports
type ReportWriter struct {
	Path   string
	Format string
}

// NewReportWriter creates a new report writer. Format is json or yaml.
func NewReportWriter(path, format string) *ReportWriter {
	return &ReportWriter{
		Path:   path,
		Format: format,
	}
}

// SaveToFile saves the report to a file in the configured format
func (w *ReportWriter) SaveToFile(report interface{}) error {
	var (
		data []byte
		err  error
	)
	switch w.Format {
	case "", "json":
		data, err = json.MarshalIndent(report, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(report)
	default:
		return fmt.Errorf("unsupported report format: %s", w.Format)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(w.Path, data, 0644)
}

// EventLog appends received envelopes to a file as JSON lines
type EventLog struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// OpenEventLog opens path for appending, creating it if needed
func OpenEventLog(path string) (*EventLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &EventLog{file: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one envelope
func (l *EventLog) Append(env models.EventEnvelope) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(env)
}

// Close closes the underlying file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
