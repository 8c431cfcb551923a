package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxLogSize = 100 * 1024 * 1024
	LogFileExtension  = ".jsonl"
	ArchiveDir        = "archive"
)

// LogEntry is one JSONL line of the audit log. Agent, project and task are
// lifted out of the event data when present.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Agent     string         `json:"agent,omitempty"`
	Project   string         `json:"project,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// AuditLogger appends events to a JSONL file and moves it into archive/
// once it would exceed maxSize.
type AuditLogger struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	logPath     string
	rotations   int
}

func NewAuditLogger(logPath string, maxSize int64) (*AuditLogger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create audit log dir: %w", err)
	}

	l := &AuditLogger{logPath: logPath, maxSize: maxSize}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// Attach subscribes the logger to every event type on bus. Write errors are
// reported through onError, which may be nil.
func (l *AuditLogger) Attach(bus *Bus, onError func(error)) func() {
	return bus.SubscribeAll(func(e Event) {
		if err := l.Record(e); err != nil && onError != nil {
			onError(err)
		}
	})
}

// Record writes one event.
func (l *AuditLogger) Record(e Event) error {
	entry := LogEntry{
		Timestamp: e.Timestamp,
		EventID:   uuid.NewString(),
		EventType: string(e.Type),
		Details:   e.Data,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if v, ok := e.Data["agent"].(string); ok {
		entry.Agent = v
	}
	if v, ok := e.Data["project"].(string); ok {
		entry.Project = v
	}
	if v, ok := e.Data["task_id"].(string); ok {
		entry.TaskID = v
	}
	return l.WriteEntry(&entry)
}

func (l *AuditLogger) WriteEntry(entry *LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit log closed")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize > 0 && l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	l.currentSize += int64(n)
	return nil
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	l.rotations++
	base := strings.TrimSuffix(filepath.Base(l.logPath), LogFileExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), l.rotations, LogFileExtension)
	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive audit log: %w", err)
	}
	return l.open()
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Sync()
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}

func (l *AuditLogger) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}
