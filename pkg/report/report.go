// Package report renders verdicts for humans.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/flow"
	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

var levelNames = map[verdict.Level]string{
	verdict.LevelSchema:     "schema",
	verdict.LevelGovernance: "governance",
	verdict.LevelBehavioral: "behavioral",
}

func status(pass, evaluated bool) string {
	switch {
	case !evaluated:
		return "⏭ SKIP"
	case pass:
		return "✅ PASS"
	}
	return "❌ FAIL"
}

// Failures returns the failed and indeterminate records of v, in evidence order.
func Failures(v *verdict.Verdict) (failed, indeterminate []evidence.Record) {
	for _, r := range v.Evidence {
		switch r.Outcome {
		case evidence.OutcomeFail:
			failed = append(failed, r)
		case evidence.OutcomeIndeterminate:
			indeterminate = append(indeterminate, r)
		}
	}
	return failed, indeterminate
}

func scenarioDetails(res *flow.Result) []string {
	var out []string
	add := func(label string, items []string) {
		if len(items) > 0 {
			out = append(out, label+": "+strings.Join(items, ", "))
		}
	}
	add("missing modules", res.MissingModules)
	add("missing steps", res.MissingSteps)
	add("order", res.OrderViolations)
	add("failure conditions", res.FailureConditions)
	add("scope", res.ScopeViolations)
	return out
}

func describe(r evidence.Record) string {
	var b strings.Builder
	if r.Severity != "" {
		fmt.Fprintf(&b, "[%s] ", r.Severity)
	}
	b.WriteString(string(r.Source))
	if r.Scenario != "" {
		b.WriteString(" " + r.Scenario)
	}
	b.WriteString(" " + r.Rule)
	if r.Subject != "" {
		b.WriteString(" on " + r.Subject)
	}
	if r.Code != "" {
		b.WriteString(": " + r.Code)
	}
	if r.Reason != "" {
		b.WriteString(" " + r.Reason)
	}
	return b.String()
}

// WriteText prints a terminal report.
func WriteText(w io.Writer, v *verdict.Verdict) {
	_, _ = fmt.Fprintf(w, "MPLP Conformance Report\n")
	_, _ = fmt.Fprintf(w, "───────────────────────\n")
	_, _ = fmt.Fprintf(w, "Pack:     %s\n", v.PackID)
	_, _ = fmt.Fprintf(w, "Digest:   %s\n", v.PackDigest)
	_, _ = fmt.Fprintf(w, "Ruleset:  %s\n", v.RulesetVersion)
	_, _ = fmt.Fprintf(w, "Verdict:  %s\n", v.VerdictID)
	_, _ = fmt.Fprintf(w, "Hash:     %s\n\n", v.VerdictHash)

	_, _ = fmt.Fprintln(w, "Levels")
	for _, l := range v.Levels {
		_, _ = fmt.Fprintf(w, "  %s  %s %s\n", status(l.Pass, l.Evaluated), l.Level, levelNames[l.Level])
	}

	if len(v.ScenarioResults) > 0 {
		_, _ = fmt.Fprintln(w, "\nScenarios")
		for _, res := range v.ScenarioResults {
			_, _ = fmt.Fprintf(w, "  %s  %s %s", status(res.Pass, true), res.ScenarioID, res.Title)
			for _, d := range scenarioDetails(res) {
				_, _ = fmt.Fprintf(w, "  [%s]", d)
			}
			_, _ = fmt.Fprintln(w)
		}
	}

	failed, indeterminate := Failures(v)
	if len(failed) > 0 {
		_, _ = fmt.Fprintf(w, "\nFailures (%d)\n", len(failed))
		for _, r := range failed {
			_, _ = fmt.Fprintf(w, "  %s\n", describe(r))
		}
	}
	if len(indeterminate) > 0 {
		_, _ = fmt.Fprintf(w, "\nIndeterminate (%d)\n", len(indeterminate))
		for _, r := range indeterminate {
			_, _ = fmt.Fprintf(w, "  %s\n", describe(r))
		}
	}

	_, _ = fmt.Fprintln(w)
	if v.Conformant() {
		_, _ = fmt.Fprintf(w, "Result: ✅ CONFORMANT (%d records)\n", len(v.Evidence))
	} else {
		_, _ = fmt.Fprintf(w, "Result: ❌ NON-CONFORMANT (highest level: %s, %d failed of %d records)\n",
			v.HighestLevel(), len(failed), len(v.Evidence))
	}
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func word(pass, evaluated bool) string {
	switch {
	case !evaluated:
		return "skipped"
	case pass:
		return "pass"
	}
	return "fail"
}

// WriteMarkdown renders the verdict as a Markdown document.
func WriteMarkdown(w io.Writer, v *verdict.Verdict) {
	_, _ = fmt.Fprintf(w, "# MPLP Conformance Report\n\n")
	_, _ = fmt.Fprintf(w, "| Field | Value |\n|---|---|\n")
	_, _ = fmt.Fprintf(w, "| Pack | `%s` |\n", cell(v.PackID))
	_, _ = fmt.Fprintf(w, "| Digest | `%s` |\n", v.PackDigest)
	_, _ = fmt.Fprintf(w, "| Ruleset | `%s` |\n", v.RulesetVersion)
	_, _ = fmt.Fprintf(w, "| Verdict | `%s` |\n", v.VerdictID)
	_, _ = fmt.Fprintf(w, "| Hash | `%s` |\n", v.VerdictHash)
	result := "non-conformant"
	if v.Conformant() {
		result = "conformant"
	}
	_, _ = fmt.Fprintf(w, "| Result | **%s** (highest level: %s) |\n\n", result, v.HighestLevel())

	_, _ = fmt.Fprintf(w, "## Levels\n\n| Level | Name | Result |\n|---|---|---|\n")
	for _, l := range v.Levels {
		_, _ = fmt.Fprintf(w, "| %s | %s | %s |\n", l.Level, levelNames[l.Level], word(l.Pass, l.Evaluated))
	}

	if len(v.ScenarioResults) > 0 {
		_, _ = fmt.Fprintf(w, "\n## Scenarios\n\n| Scenario | Title | Result | Details |\n|---|---|---|---|\n")
		for _, res := range v.ScenarioResults {
			_, _ = fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
				res.ScenarioID, cell(res.Title), word(res.Pass, true), cell(strings.Join(scenarioDetails(res), "; ")))
		}
	}

	failed, indeterminate := Failures(v)
	for _, section := range []struct {
		title   string
		records []evidence.Record
	}{{"Failures", failed}, {"Indeterminate", indeterminate}} {
		if len(section.records) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(w, "\n## %s\n\n| Severity | Source | Rule | Subject | Code | Reason |\n|---|---|---|---|---|---|\n", section.title)
		for _, r := range section.records {
			rule := r.Rule
			if r.Scenario != "" {
				rule = r.Scenario + " " + rule
			}
			_, _ = fmt.Fprintf(w, "| %s | %s | %s | %s | %s | %s |\n",
				r.Severity, r.Source, cell(rule), cell(r.Subject), r.Code, cell(r.Reason))
		}
	}
}
