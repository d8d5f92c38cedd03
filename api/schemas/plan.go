package schemas

import (
	"bytes"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PlanStep is one unit of generated-and-executed analysis.
type PlanStep struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Instruction string `json:"instruction"`
}

// StepRecord captures one attempted plan step.
type StepRecord struct {
	Thought     string `json:"thought"`
	Instruction string `json:"instruction"`
	Code        string `json:"code"`
	Result      string `json:"result"`
	Reflection  string `json:"reflection"`
}

// ExecutionLog maps step names to their records while preserving the order in
// which steps were first recorded. Re-recording a step replaces its record.
type ExecutionLog struct {
	order   []string
	records map[string]StepRecord
}

// NewExecutionLog returns an empty log.
func NewExecutionLog() *ExecutionLog {
	return &ExecutionLog{records: make(map[string]StepRecord)}
}

// Record stores rec under name; the last write wins.
func (l *ExecutionLog) Record(name string, rec StepRecord) {
	if _, ok := l.records[name]; !ok {
		l.order = append(l.order, name)
	}
	l.records[name] = rec
}

// Get returns the record for name.
func (l *ExecutionLog) Get(name string) (StepRecord, bool) {
	rec, ok := l.records[name]
	return rec, ok
}

// Names returns recorded step names in first-recorded order.
func (l *ExecutionLog) Names() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// Len returns the number of recorded steps.
func (l *ExecutionLog) Len() int { return len(l.order) }

// MarshalJSON emits a JSON object whose keys follow recording order.
func (l *ExecutionLog) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range l.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(l.records[name])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Indented renders the log as two-space indented JSON for prompts.
func (l *ExecutionLog) Indented() string {
	if len(l.order) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, name := range l.order {
		key, _ := json.Marshal(name)
		val, err := json.MarshalIndent(l.records[name], "", "  ")
		if err != nil {
			val = []byte("{}")
		}
		// Encoded strings never hold raw newlines, so every one is structural.
		val = bytes.ReplaceAll(val, []byte("\n"), []byte("\n  "))
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
		if i < len(l.order)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.String()
}
