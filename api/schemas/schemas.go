package schemas

import (
	"fmt"
	"strings"
)

// EntryType distinguishes the two kinds of retrievable graph entities.
type EntryType string

const (
	EntryVariable EntryType = "variable"
	EntryValue    EntryType = "value"
)

// CategoryUnknown is assigned to entries discovered through graph expansion.
const CategoryUnknown = "unknown"

// Entry is a retrievable unit: either a Variable or a Variable-Value pair.
// Text is the rendered identity string used for similarity lookup and dedup.
type Entry struct {
	Type        EntryType `json:"type"`
	Text        string    `json:"text"`
	VarName     string    `json:"var_name,omitempty"`
	Description string    `json:"description,omitempty"`
	ParentVar   string    `json:"parent_var,omitempty"`
	Label       string    `json:"label,omitempty"`
	Category    string    `json:"category"`
}

// NewVariableEntry builds a variable entry with its canonical text.
func NewVariableEntry(name, description, category string) Entry {
	return Entry{
		Type:        EntryVariable,
		Text:        fmt.Sprintf("Variable: %s - %s (%s)", name, description, category),
		VarName:     name,
		Description: description,
		Category:    category,
	}
}

// NewValueEntry builds a value entry with its canonical text.
func NewValueEntry(parent, label, category string) Entry {
	return Entry{
		Type:      EntryValue,
		Text:      fmt.Sprintf("Value: %s (from %s - %s)", label, parent, category),
		ParentVar: parent,
		Label:     label,
		Category:  category,
	}
}

// NewExpandedValueEntry builds a value entry reached through graph expansion.
func NewExpandedValueEntry(parent, label string) Entry {
	return Entry{
		Type:      EntryValue,
		Text:      fmt.Sprintf("Value: %s (from %s - expanded)", label, parent),
		ParentVar: parent,
		Label:     label,
		Category:  CategoryUnknown,
	}
}

// Key returns the case-insensitive identity of the entry.
func (e Entry) Key() string {
	return strings.ToLower(e.Text)
}

// IsVariable reports whether the entry is a Variable.
func (e Entry) IsVariable() bool { return e.Type == EntryVariable }

// ScoredResult pairs an entry with a producer-local score. Scores from different
// producers (index distance, expansion sentinel) are not comparable.
type ScoredResult struct {
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// ResultSet is an insertion-ordered sequence of results, unique by Entry.Key.
type ResultSet []ScoredResult

// Texts returns the entry texts in order.
func (rs ResultSet) Texts() []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Entry.Text
	}
	return out
}

// -- Query / Response --

// PICOT is the structured clinical-question frame.
type PICOT struct {
	Population   string `json:"population,omitempty"`
	Intervention string `json:"intervention,omitempty"`
	Control      string `json:"control,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
	Timeframe    string `json:"timeframe,omitempty"`
}

// IsEmpty reports whether no PICOT field was supplied.
func (p PICOT) IsEmpty() bool {
	return p.Population == "" && p.Intervention == "" && p.Control == "" &&
		p.Outcome == "" && p.Timeframe == ""
}

// Query is the parsed user request.
type Query struct {
	FullQuestion string `json:"fullQuestion"`
	Mode         string `json:"mode"`
	PICOT        PICOT  `json:"picot"`
}

// Response is what the pipeline hands back to its caller.
type Response struct {
	Answer string `json:"answer,omitempty"`
	Debug  string `json:"debug,omitempty"`
	Error  string `json:"error,omitempty"`
	// NoPlan is set when plan generation produced nothing to execute.
	NoPlan bool `json:"no_plan,omitempty"`
}
