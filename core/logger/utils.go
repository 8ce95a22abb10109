package logger

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event types written to the log.
const (
	EventSessionStart = "session_start"
	EventJobStarted   = "job_started"
	EventStageFailed  = "stage_failed"
	EventJobReaped    = "job_reaped"
	EventSignalSent   = "signal_sent"
	EventBuiltinError = "builtin_error"
	EventPathError    = "path_error"
)

// Well known entry fields.
const (
	FieldTimestamp = "timestamp_micros"
	FieldSession   = "session_id"
	FieldType      = "type"
)

// LogEntry is a single recorded event.
type LogEntry = structpb.Struct

// LogRecorder is a callback that stores events in an external datastore.
type LogRecorder func(le *LogEntry) error

// Logger captures job lifecycle events.
type Logger struct {
	Record LogRecorder
}

// NewJsonLinesLogRecorder creates a Logger that exports logs in newline
// delimited JSON object format. It's safe for concurrent use.
func NewJsonLinesLogRecorder(w io.Writer) *Logger {
	var mu sync.Mutex
	return &Logger{
		Record: func(le *LogEntry) error {
			entry, err := protojson.Marshal(le)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			_, err = fmt.Fprintln(w, string(entry))
			return err
		},
	}
}

// NewNopLogger creates a Logger that drops every event.
func NewNopLogger() *Logger {
	return &Logger{
		Record: func(*LogEntry) error {
			return nil
		},
	}
}

func (l *Logger) recordEvent(sessionID, eventType string, fields map[string]interface{}) error {
	values := map[string]interface{}{
		FieldTimestamp: time.Now().UnixNano() / int64(time.Microsecond),
		FieldSession:   sessionID,
		FieldType:      eventType,
	}
	for k, v := range fields {
		values[k] = v
	}

	le, err := structpb.NewStruct(values)
	if err != nil {
		return err
	}
	return l.Record(le)
}

// NewSession creates a logger with attached session ID.
func (l *Logger) NewSession() *SessionLogger {
	return &SessionLogger{Logger: l, sessionID: fmt.Sprintf("%d", rand.Uint64())}
}

// SessionLogger logs messages with a shared session ID.
type SessionLogger struct {
	*Logger
	sessionID string
}

// SessionID of the logger.
func (l *SessionLogger) SessionID() string {
	return l.sessionID
}

// Record logs an event, fields must hold values structpb can represent.
func (l *SessionLogger) Record(eventType string, fields map[string]interface{}) error {
	if l == nil || l.Logger == nil {
		return nil
	}
	return l.recordEvent(l.sessionID, eventType, fields)
}

// Ints converts a slice so it can be used as a field value.
func Ints(in []int) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// Strings converts a slice so it can be used as a field value.
func Strings(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
