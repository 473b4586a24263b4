package pack

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/mplp-conform/pkg/canonicalize"
)

// Integrity issue codes.
const (
	IssueManifestMissing    = "MANIFEST_MISSING"
	IssueManifestInvalid    = "MANIFEST_INVALID"
	IssueDocumentMissing    = "DOCUMENT_MISSING"
	IssueHashMismatch       = "HASH_MISMATCH"
	IssueUndeclaredDocument = "UNDECLARED_DOCUMENT"
	IssueDuplicateEntry     = "DUPLICATE_ENTRY"
	IssueEmptyPack          = "EMPTY_PACK"
)

// ErrIntegrity matches any *IntegrityError via errors.Is.
var ErrIntegrity = errors.New("pack integrity check failed")

// Issue is one integrity finding.
type Issue struct {
	Code   string `json:"code"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail"`
}

// IntegrityError carries every issue found by Verify.
type IntegrityError struct {
	Issues []Issue
}

func (e *IntegrityError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path != "" {
			parts = append(parts, fmt.Sprintf("%s %s: %s", is.Code, is.Path, is.Detail))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", is.Code, is.Detail))
		}
	}
	return fmt.Sprintf("%s (%d issue(s)): %s", ErrIntegrity, len(e.Issues), strings.Join(parts, "; "))
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// Has reports whether an issue with the given code was found.
func (e *IntegrityError) Has(code string) bool {
	for _, is := range e.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Verify checks the manifest against the files. It returns nil or an
// *IntegrityError listing every issue sorted by path then code.
func (p *Pack) Verify() error {
	var issues []Issue
	switch {
	case p.manifestErr != nil:
		issues = append(issues, Issue{Code: IssueManifestInvalid, Path: ManifestFile, Detail: p.manifestErr.Error()})
	case p.Manifest == nil:
		issues = append(issues, Issue{Code: IssueManifestMissing, Path: ManifestFile, Detail: "pack has no manifest"})
	case len(p.Manifest.Documents) == 0:
		issues = append(issues, Issue{Code: IssueEmptyPack, Detail: "manifest declares no documents"})
	}
	if p.Manifest == nil || p.manifestErr != nil {
		return &IntegrityError{Issues: issues}
	}

	declared := make(map[string]bool, len(p.Manifest.Documents))
	for _, e := range p.Manifest.Documents {
		name := cleanPath(e.Path)
		if declared[name] {
			issues = append(issues, Issue{Code: IssueDuplicateEntry, Path: name, Detail: "document declared more than once"})
			continue
		}
		declared[name] = true

		data, ok := p.Files[name]
		if !ok {
			issues = append(issues, Issue{Code: IssueDocumentMissing, Path: name, Detail: "declared document not found"})
			continue
		}
		want := normalizeHash(e.SHA256)
		if got := canonicalize.HashBytes(data); got != want {
			issues = append(issues, Issue{
				Code:   IssueHashMismatch,
				Path:   name,
				Detail: fmt.Sprintf("expected %s, got %s", want, got),
			})
		}
	}
	for _, name := range p.paths() {
		if !declared[name] {
			issues = append(issues, Issue{Code: IssueUndeclaredDocument, Path: name, Detail: "file is not declared in the manifest"})
		}
	}

	if len(issues) == 0 {
		return nil
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Path != issues[j].Path {
			return issues[i].Path < issues[j].Path
		}
		return issues[i].Code < issues[j].Code
	})
	return &IntegrityError{Issues: issues}
}
