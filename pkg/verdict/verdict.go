// Package verdict aggregates evidence into the three-tier conformance
// verdict and seals it with a content hash.
package verdict

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/mplp-conform/pkg/canonicalize"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/flow"
)

// Namespace is the UUIDv5 namespace verdict ids are derived in.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://mplp.io/conformance/verdict"))

// Level names a conformance tier.
type Level string

const (
	LevelSchema     Level = "L1"
	LevelGovernance Level = "L2"
	LevelBehavioral Level = "L3"
)

// LevelResult reports one tier.
type LevelResult struct {
	Level     Level `json:"level"`
	Pass      bool  `json:"pass"`
	Evaluated bool  `json:"evaluated"`
}

// Verdict is the sealed outcome of one evaluation.
type Verdict struct {
	VerdictID            string            `json:"verdictId"`
	PackID               string            `json:"packId"`
	PackDigest           string            `json:"packDigest"`
	RulesetVersion       string            `json:"rulesetVersion"`
	SchemaConformant     bool              `json:"schemaConformant"`
	GovernanceConformant bool              `json:"governanceConformant"`
	BehavioralConformant bool              `json:"behavioralConformant"`
	Levels               []LevelResult     `json:"levels"`
	ScenarioResults      []*flow.Result    `json:"scenarioResults"`
	Evidence             []evidence.Record `json:"evidence"`
	VerdictHash          string            `json:"verdictHash"`
}

// Conformant reports whether every tier passed.
func (v *Verdict) Conformant() bool {
	return v.SchemaConformant && v.GovernanceConformant && v.BehavioralConformant
}

// HighestLevel names the highest consecutive tier that passed, or "none".
func (v *Verdict) HighestLevel() string {
	level := "none"
	for _, l := range v.Levels {
		if !l.Pass {
			break
		}
		level = string(l.Level)
	}
	return level
}

// Input is everything Aggregate needs. SchemaRecords must hold one failed
// record per ingestion violation; ConstraintRecords and Scenarios are
// ignored when any schema record failed.
type Input struct {
	PackID            string
	PackDigest        string
	RulesetVersion    string
	SchemaRecords     []evidence.Record
	ConstraintRecords []evidence.Record
	Scenarios         []*flow.Result
}

// hashed is the canonical body covered by verdictHash.
type hashed struct {
	PackID         string            `json:"packId"`
	PackDigest     string            `json:"packDigest"`
	RulesetVersion string            `json:"rulesetVersion"`
	Records        []evidence.Record `json:"records"`
}

// Aggregate computes the verdict. It reads no clock and no randomness: equal
// inputs give byte-identical verdicts.
func Aggregate(in Input) (*Verdict, error) {
	if in.RulesetVersion == "" {
		return nil, errors.New("verdict: ruleset version is required")
	}

	v := &Verdict{
		PackID:         in.PackID,
		PackDigest:     in.PackDigest,
		RulesetVersion: in.RulesetVersion,
	}

	records := append([]evidence.Record(nil), in.SchemaRecords...)
	v.SchemaConformant = !anyFailed(in.SchemaRecords)

	l2 := LevelResult{Level: LevelGovernance}
	l3 := LevelResult{Level: LevelBehavioral}
	if v.SchemaConformant {
		records = append(records, in.ConstraintRecords...)
		l2.Evaluated = true
		l2.Pass = !anyBlocking(in.ConstraintRecords)

		scenarios := append([]*flow.Result(nil), in.Scenarios...)
		sort.SliceStable(scenarios, func(i, j int) bool { return scenarios[i].ScenarioID < scenarios[j].ScenarioID })
		l3.Evaluated = true
		l3.Pass = len(scenarios) > 0
		for _, s := range scenarios {
			if !s.Pass {
				l3.Pass = false
			}
		}
		records = append(records, flow.Merge(scenarios)...)
		v.ScenarioResults = scenarios
	}
	v.GovernanceConformant = l2.Pass
	v.BehavioralConformant = l3.Pass
	v.Levels = []LevelResult{
		{Level: LevelSchema, Pass: v.SchemaConformant, Evaluated: true},
		l2,
		l3,
	}
	if v.ScenarioResults == nil {
		v.ScenarioResults = []*flow.Result{}
	}

	evidence.Sort(records)
	if records == nil {
		records = []evidence.Record{}
	}
	v.Evidence = records

	hash, err := Hash(v)
	if err != nil {
		return nil, err
	}
	v.VerdictHash = hash
	v.VerdictID = uuid.NewSHA1(Namespace, []byte(hash)).String()
	return v, nil
}

// Hash recomputes the verdict hash from v's identifying fields and
// evidence. Evidence is expected in canonical order.
func Hash(v *Verdict) (string, error) {
	records := v.Evidence
	if records == nil {
		records = []evidence.Record{}
	}
	h, err := canonicalize.CanonicalHash(hashed{
		PackID:         v.PackID,
		PackDigest:     v.PackDigest,
		RulesetVersion: v.RulesetVersion,
		Records:        records,
	})
	if err != nil {
		return "", fmt.Errorf("verdict: hash: %w", err)
	}
	return h, nil
}

// Verify recomputes the hash and id of v.
func Verify(v *Verdict) error {
	h, err := Hash(v)
	if err != nil {
		return err
	}
	if h != v.VerdictHash {
		return fmt.Errorf("verdict: hash mismatch: recorded %s, computed %s", v.VerdictHash, h)
	}
	if id := uuid.NewSHA1(Namespace, []byte(h)).String(); id != v.VerdictID {
		return fmt.Errorf("verdict: id mismatch: recorded %s, computed %s", v.VerdictID, id)
	}
	return nil
}

func anyFailed(records []evidence.Record) bool {
	for _, r := range records {
		if r.Failed() {
			return true
		}
	}
	return false
}

func anyBlocking(records []evidence.Record) bool {
	for _, r := range records {
		if r.Blocking() {
			return true
		}
	}
	return false
}
