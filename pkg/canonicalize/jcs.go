// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme) compliant
// serialization for deterministic hashing of verdicts and evidence packs.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// Struct tags are honoured by a first pass through encoding/json. Every string
// (keys included) is then normalised to Unicode NFC so that visually identical
// inputs hash identically, and the result is handed to the JCS transformer for
// key ordering, number formatting and escaping.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}

	var generic any
	decoder := json.NewDecoder(bytes.NewReader(intermediate))
	decoder.UseNumber()
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("jcs: intermediate decode failed: %w", err)
	}

	normalized, err := json.Marshal(normalize(generic))
	if err != nil {
		return nil, fmt.Errorf("jcs: normalized marshal failed: %w", err)
	}

	out, err := jcs.Transform(normalized)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the SHA-256 hex digest of the canonical JSON representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes computes SHA-256 hash of raw bytes and returns hex string
func HashBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// JCSString returns the JCS canonical form as a string
func JCSString(v any) (string, error) {
	data, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = normalize(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			out[norm.NFC.String(k)] = normalize(elem)
		}
		return out
	default:
		return v
	}
}
