package ruleset

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
)

//go:embed rulesets/*.yaml
var embedded embed.FS

// Latest selects the highest registered version.
const Latest = "latest"

// Catalog is the set of rulesets available to an engine.
type Catalog struct {
	mu       sync.RWMutex
	rulesets map[string]*Ruleset
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{rulesets: make(map[string]*Ruleset)}
}

var (
	builtinOnce sync.Once
	builtinCat  *Catalog
	builtinErr  error
)

// Builtin returns a catalog holding the rulesets shipped with the binary.
// Each call returns a fresh catalog sharing the compiled rulesets.
func Builtin() (*Catalog, error) {
	builtinOnce.Do(func() {
		builtinCat = NewCatalog()
		entries, err := embedded.ReadDir("rulesets")
		if err != nil {
			builtinErr = err
			return
		}
		for _, e := range entries {
			data, err := embedded.ReadFile("rulesets/" + e.Name())
			if err != nil {
				builtinErr = err
				return
			}
			rs, err := Parse(data)
			if err != nil {
				builtinErr = fmt.Errorf("%s: %w", e.Name(), err)
				return
			}
			if err := builtinCat.Register(rs); err != nil {
				builtinErr = err
				return
			}
		}
	})
	if builtinErr != nil {
		return nil, builtinErr
	}
	c := NewCatalog()
	builtinCat.mu.RLock()
	for k, v := range builtinCat.rulesets {
		c.rulesets[k] = v
	}
	builtinCat.mu.RUnlock()
	return c, nil
}

// Register adds rs. A version may be registered once.
func (c *Catalog) Register(rs *Ruleset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := rs.Version.String()
	if _, exists := c.rulesets[key]; exists {
		return fmt.Errorf("ruleset %s already registered", key)
	}
	c.rulesets[key] = rs
	return nil
}

// LoadDir parses and registers every *.yaml / *.yml file in dir.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("ruleset dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("ruleset %s: %w", name, err)
		}
		rs, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := c.Register(rs); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves version. It accepts an exact version, "latest", or a semver
// constraint such as "~1.0"; a constraint picks the highest match.
func (c *Catalog) Get(version string) (*Ruleset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: empty version", ErrUnknownVersion)
	}
	if v, err := semver.StrictNewVersion(version); err == nil {
		if rs, ok := c.rulesets[v.String()]; ok {
			return rs, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}

	var match func(*semver.Version) bool
	if version == Latest {
		match = func(*semver.Version) bool { return true }
	} else {
		cons, err := semver.NewConstraint(version)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
		}
		match = cons.Check
	}
	var best *Ruleset
	for _, rs := range c.rulesets {
		if match(rs.Version) && (best == nil || rs.Version.GreaterThan(best.Version)) {
			best = rs
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return best, nil
}

// Versions lists registered versions in ascending order.
func (c *Catalog) Versions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vs := make([]*semver.Version, 0, len(c.rulesets))
	for _, rs := range c.rulesets {
		vs = append(vs, rs.Version)
	}
	sort.Sort(semver.Collection(vs))
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}
