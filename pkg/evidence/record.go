// Package evidence defines the append-only record log that backs every
// verdict. Records are values: once appended they are never changed.
package evidence

import (
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// Source names the evaluation phase that produced a record.
type Source string

const (
	SourceSchema     Source = "schema"
	SourceConstraint Source = "constraint"
	SourceScenario   Source = "scenario"
)

// Outcome of a single check.
type Outcome string

const (
	OutcomePass          Outcome = "pass"
	OutcomeFail          Outcome = "fail"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Severity of a normative statement.
type Severity string

const (
	SeverityMust    Severity = "MUST"
	SeverityShould  Severity = "SHOULD"
	SeverityMustNot Severity = "MUST-NOT"
)

// Valid reports whether s is one of the three normative severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityMust, SeverityShould, SeverityMustNot:
		return true
	}
	return false
}

// Normative reports whether a failure at this severity is blocking.
func (s Severity) Normative() bool {
	return s == SeverityMust || s == SeverityMustNot
}

// Record is one evidence entry.
type Record struct {
	Source   Source      `json:"source"`
	Scenario string      `json:"scenario,omitempty"`
	Rule     string      `json:"rule"`
	Module   schema.Kind `json:"module,omitempty"`
	Severity Severity    `json:"severity,omitempty"`
	Subject  string      `json:"subject,omitempty"`
	Related  []string    `json:"related,omitempty"`
	Outcome  Outcome     `json:"outcome"`
	Code     string      `json:"code,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Failed reports whether the record is a failure of any severity.
func (r Record) Failed() bool { return r.Outcome == OutcomeFail }

// Blocking reports whether the record is a failed MUST or MUST-NOT check.
func (r Record) Blocking() bool { return r.Failed() && r.Severity.Normative() }

// Key is the canonical sort key of a record.
func (r Record) Key() string {
	return strings.Join([]string{
		string(r.Source),
		r.Scenario,
		r.Rule,
		string(r.Module),
		r.Subject,
		string(r.Outcome),
		r.Code,
		r.Reason,
		strings.Join(r.Related, ","),
	}, "\x1f")
}

// Sort orders records by canonical key. The sort is stable so equal keys
// keep their relative order.
func Sort(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})
}

// Log is an append-only record sequence. The zero value is ready to use.
type Log struct {
	mu      sync.Mutex
	records []Record
}

// Append adds records to the end of the log.
func (l *Log) Append(records ...Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		if len(r.Related) > 0 {
			r.Related = append([]string(nil), r.Related...)
		}
		l.records = append(l.records, r)
	}
}

// Records returns a copy of the log in append order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records appended so far.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Filter returns the records matching keep, in append order.
func Filter(records []Record, keep func(Record) bool) []Record {
	var out []Record
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
