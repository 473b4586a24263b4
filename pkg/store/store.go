// Package store caches verdicts keyed by pack digest and ruleset version.
// Evaluation is a pure function of that pair, so a cached verdict is always
// the verdict a fresh evaluation would produce.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

// ErrNotFound is returned when no verdict is cached for a key.
var ErrNotFound = errors.New("verdict not found")

// Key identifies one cached verdict.
type Key struct {
	PackDigest     string
	RulesetVersion string
}

// KeyOf returns the cache key of v.
func KeyOf(v *verdict.Verdict) Key {
	return Key{PackDigest: v.PackDigest, RulesetVersion: v.RulesetVersion}
}

func (k Key) String() string { return k.RulesetVersion + "/" + k.PackDigest }

// VerdictStore persists sealed verdicts.
type VerdictStore interface {
	Get(ctx context.Context, key Key) (*verdict.Verdict, error)
	Put(ctx context.Context, v *verdict.Verdict) error
	Close() error
}

// GetOrCompute returns the cached verdict for key or computes, stores and
// returns a fresh one. The bool reports a cache hit.
func GetOrCompute(ctx context.Context, s VerdictStore, key Key, compute func(context.Context) (*verdict.Verdict, error)) (*verdict.Verdict, bool, error) {
	v, err := s.Get(ctx, key)
	if err == nil {
		return v, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	v, err = compute(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(ctx, v); err != nil {
		return nil, false, err
	}
	return v, false, nil
}

func encode(v *verdict.Verdict) ([]byte, error) {
	if v.PackDigest == "" || v.RulesetVersion == "" {
		return nil, fmt.Errorf("store: verdict has no pack digest or ruleset version")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode verdict: %w", err)
	}
	return b, nil
}

// decode parses a stored verdict and re-verifies its seal.
func decode(b []byte) (*verdict.Verdict, error) {
	var v verdict.Verdict
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("store: decode verdict: %w", err)
	}
	if err := verdict.Verify(&v); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &v, nil
}
