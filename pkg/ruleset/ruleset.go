// Package ruleset binds a versioned set of module schemas, lifecycle tables,
// constraints and Golden Flow scenarios. Every evaluation names the ruleset
// version it runs under.
package ruleset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/mplp-conform/pkg/canonicalize"
	"github.com/Mindburn-Labs/mplp-conform/pkg/constraint"
	"github.com/Mindburn-Labs/mplp-conform/pkg/flow"
	"github.com/Mindburn-Labs/mplp-conform/pkg/lifecycle"
	"github.com/Mindburn-Labs/mplp-conform/pkg/schema"
)

// ErrUnknownVersion is returned when no registered ruleset matches.
var ErrUnknownVersion = errors.New("unknown ruleset version")

// file is the on-disk YAML layout.
type file struct {
	Version     string                              `yaml:"version"`
	Description string                              `yaml:"description"`
	Modules     map[string]*schema.ModuleDefinition `yaml:"modules"`
	Constraints []constraint.Definition             `yaml:"constraints"`
	Scenarios   []flow.Scenario                     `yaml:"scenarios"`
}

// Ruleset is a fully compiled, immutable ruleset.
type Ruleset struct {
	Version     *semver.Version
	Description string
	Schemas     *schema.Registry
	Lifecycle   *lifecycle.Machine
	Constraints *constraint.Table
	Scenarios   *flow.Catalog
	// Digest is the SHA-256 of the source document.
	Digest string
}

// Parse compiles a ruleset from its YAML source.
func Parse(data []byte) (*Ruleset, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ruleset: parse: %w", err)
	}
	v, err := semver.StrictNewVersion(f.Version)
	if err != nil {
		return nil, fmt.Errorf("ruleset: version %q: %w", f.Version, err)
	}

	names := make([]string, 0, len(f.Modules))
	for name := range f.Modules {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]*schema.ModuleDefinition, 0, len(names))
	for _, name := range names {
		def := f.Modules[name]
		kind, ok := schema.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("ruleset %s: %w: %q", v, schema.ErrUnknownModuleKind, name)
		}
		if def == nil {
			def = &schema.ModuleDefinition{}
		}
		def.Kind = kind
		defs = append(defs, def)
	}
	reg, err := schema.NewRegistry(defs)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: %w", v, err)
	}

	table, err := constraint.NewTable(f.Constraints)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: %w", v, err)
	}
	known := func(id string) bool {
		_, ok := table.Get(id)
		return ok
	}
	catalog, err := flow.NewCatalog(f.Scenarios, known)
	if err != nil {
		return nil, fmt.Errorf("ruleset %s: %w", v, err)
	}

	return &Ruleset{
		Version:     v,
		Description: f.Description,
		Schemas:     reg,
		Lifecycle:   lifecycle.New(reg),
		Constraints: table,
		Scenarios:   catalog,
		Digest:      canonicalize.HashBytes(data),
	}, nil
}
