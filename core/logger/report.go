package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"google.golang.org/protobuf/encoding/protojson"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var rawEntry json.RawMessage
		if err := decoder.Decode(&rawEntry); err != nil {
			return err
		}

		var logEntry LogEntry
		if err := protojson.Unmarshal(rawEntry, &logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

func stringField(le *LogEntry, name string) string {
	if v, ok := le.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(le *LogEntry, name string) (int, bool) {
	v, ok := le.GetFields()[name]
	if !ok {
		return 0, false
	}
	return int(v.GetNumberValue()), true
}

func firstArg(le *LogEntry) string {
	argv := le.GetFields()["argv"].GetListValue().GetValues()
	if len(argv) == 0 {
		return ""
	}
	return argv[0].GetStringValue()
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	Sessions       int        `json:"sessions"`
	EventTypes     StrCounter `json:"event_types"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	Jobs    JobReport    `json:"job_report"`
	Signals SignalReport `json:"signal_report"`

	Failures *PathCounter `json:"failures"`
}

// NewReport creates an empty report.
func NewReport() *Report {
	return &Report{
		Failures: NewPathCounter("type", "command", "error"),
	}
}

// Update adds an entry to the report.
func (r *Report) Update(le *LogEntry) {
	r.LogEntries++
	if r.Failures == nil {
		r.Failures = NewPathCounter("type", "command", "error")
	}

	eventType := stringField(le, FieldType)
	r.EventTypes.Increment(eventType)

	switch eventType {
	case EventSessionStart:
		r.Sessions++
	case EventJobStarted:
		r.Jobs.updateStarted(le)
	case EventJobReaped:
		r.Jobs.updateReaped(le)
	case EventSignalSent:
		r.Signals.update(le)
	case EventStageFailed, EventBuiltinError, EventPathError:
		r.Failures.Increment(eventType, firstArg(le), stringField(le, "error"))
	default:
		r.InvalidEntries.Increment(fmt.Sprintf("%q", eventType))
	}
}

// JobReport summarizes launched pipelines.
type JobReport struct {
	Started      int        `json:"started"`
	Background   int        `json:"background"`
	CommandNames StrCounter `json:"command_names"`
	ExitStatuses StrCounter `json:"exit_statuses"`
	MaxStages    int        `json:"max_stages"`
}

func (r *JobReport) updateStarted(le *LogEntry) {
	r.Started++
	if le.GetFields()["background"].GetBoolValue() {
		r.Background++
	}
	if name := firstArg(le); name != "" {
		r.CommandNames.Increment(name)
	}
	if n, ok := numberField(le, "stages"); ok && n > r.MaxStages {
		r.MaxStages = n
	}
}

func (r *JobReport) updateReaped(le *LogEntry) {
	if status, ok := numberField(le, "status"); ok {
		r.ExitStatuses.Increment(fmt.Sprintf("%d", status))
	}
}

// SignalReport summarizes signals sent by job control.
type SignalReport struct {
	Sent    int        `json:"sent"`
	Signals StrCounter `json:"signals"`
	Targets StrCounter `json:"targets"`
}

func (r *SignalReport) update(le *LogEntry) {
	r.Sent++
	r.Signals.Increment(stringField(le, "signal"))
	if le.GetFields()["tracked"].GetBoolValue() {
		r.Targets.Increment("job")
	} else {
		r.Targets.Increment("pid")
	}
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Get returns the count for key.
func (s *StrCounter) Get(key string) int {
	return s.internal[key]
}

// MarshalJSON implemnts custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	if s.internal == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts the number of strings seen.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// MarshalJSON implemnts custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	out := []Count{}
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
