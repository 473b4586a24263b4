// Package pack models an evidence pack: a manifest plus the JSON documents it
// declares, with content-addressed integrity checks that run before any
// semantic evaluation.
package pack

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/mplp-conform/pkg/artifact"
	"github.com/Mindburn-Labs/mplp-conform/pkg/canonicalize"
)

// ManifestFile is the well-known manifest name at the pack root.
const ManifestFile = "manifest.json"

// Entry declares one document and its SHA-256 content hash.
type Entry struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Manifest is the pack's table of contents.
type Manifest struct {
	PackID    string   `json:"pack_id"`
	Scenarios []string `json:"scenarios,omitempty"`
	Documents []Entry  `json:"documents"`
}

// Pack is an in-memory evidence pack. Files holds every document found at the
// source keyed by slash-separated relative path, excluding the manifest.
type Pack struct {
	Manifest *Manifest
	Files    map[string][]byte

	// manifestErr records a manifest that was present but unreadable.
	manifestErr error
}

// New builds a pack from a decoded manifest and raw files. A nil manifest is
// allowed and surfaces as MANIFEST_MISSING on Verify.
func New(m *Manifest, files map[string][]byte) *Pack {
	p := &Pack{Manifest: m, Files: make(map[string][]byte, len(files))}
	for name, data := range files {
		p.Files[cleanPath(name)] = data
	}
	return p
}

// FromFiles builds a pack from a raw file set that may include manifest.json.
func FromFiles(files map[string][]byte) *Pack {
	rest := make(map[string][]byte, len(files))
	var raw []byte
	for name, data := range files {
		if cleanPath(name) == ManifestFile {
			raw = data
			continue
		}
		rest[name] = data
	}
	p := New(nil, rest)
	if raw != nil {
		m, err := ParseManifest(raw)
		if err != nil {
			p.manifestErr = err
		} else {
			p.Manifest = m
		}
	}
	return p
}

// ParseManifest decodes manifest.json.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Seal builds a pack whose manifest declares every file with its hash. A
// manifest.json among files is replaced, never declared.
func Seal(packID string, scenarios []string, files map[string][]byte) *Pack {
	p := New(nil, files)
	delete(p.Files, ManifestFile)
	m := &Manifest{PackID: packID}
	if len(scenarios) > 0 {
		m.Scenarios = append([]string(nil), scenarios...)
		sort.Strings(m.Scenarios)
	}
	for _, name := range p.paths() {
		m.Documents = append(m.Documents, Entry{Path: name, SHA256: canonicalize.HashBytes(p.Files[name])})
	}
	p.Manifest = m
	return p
}

// MarshalManifest renders the manifest as indented JSON.
func (p *Pack) MarshalManifest() ([]byte, error) {
	if p.Manifest == nil {
		return nil, fmt.Errorf("pack has no manifest")
	}
	data, err := json.MarshalIndent(p.Manifest, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ID returns the manifest pack id, or "" when there is no manifest.
func (p *Pack) ID() string {
	if p.Manifest == nil {
		return ""
	}
	return p.Manifest.PackID
}

// Scenarios returns the scenario ids the manifest asks to be evaluated.
func (p *Pack) Scenarios() []string {
	if p.Manifest == nil {
		return nil
	}
	return append([]string(nil), p.Manifest.Scenarios...)
}

// Digest is the canonical hash of the manifest content. Two packs with the
// same declared documents and hashes share a digest regardless of entry order.
func (p *Pack) Digest() (string, error) {
	if p.Manifest == nil {
		return "", fmt.Errorf("pack has no manifest")
	}
	entries := append([]Entry(nil), p.Manifest.Documents...)
	for i := range entries {
		entries[i].Path = cleanPath(entries[i].Path)
		entries[i].SHA256 = normalizeHash(entries[i].SHA256)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	scenarios := append([]string{}, p.Manifest.Scenarios...)
	sort.Strings(scenarios)

	return canonicalize.CanonicalHash(struct {
		PackID    string   `json:"pack_id"`
		Scenarios []string `json:"scenarios"`
		Documents []Entry  `json:"documents"`
	}{p.Manifest.PackID, scenarios, entries})
}

// Documents returns the declared documents in path order, ready for ingestion.
// Undeclared files are not returned.
func (p *Pack) Documents() []artifact.Document {
	if p.Manifest == nil {
		return nil
	}
	docs := make([]artifact.Document, 0, len(p.Manifest.Documents))
	for _, e := range p.Manifest.Documents {
		name := cleanPath(e.Path)
		data, ok := p.Files[name]
		if !ok {
			continue
		}
		docs = append(docs, artifact.Document{Path: name, Raw: data})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

func (p *Pack) paths() []string {
	out := make([]string, 0, len(p.Files))
	for name := range p.Files {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func cleanPath(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimPrefix(path.Clean("/"+name), "/")
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimPrefix(h, "sha256:"))
}
