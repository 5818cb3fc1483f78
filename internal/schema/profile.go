package schema

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Profile errors. Resolution failures are configuration errors: they mean
// the deployed profile does not match what the query builders expect, and
// are surfaced verbatim rather than defaulted.
var (
	ErrProfileNotFound = errors.New("schema profile not found")
	ErrProfileParse    = errors.New("schema profile parse error")
	ErrUnmappedView    = errors.New("unmapped logical view")
	ErrUnmappedColumn  = errors.New("unmapped logical column")
)

// viewMapping maps one logical view onto a physical table and its columns.
// Column values may be bare identifiers or computed SQL fragments; callers
// must not assume either.
type viewMapping struct {
	Table   string            `yaml:"table"`
	Columns map[string]string `yaml:"columns"`
}

// featureSpec names the logical view.column references a feature needs.
type featureSpec struct {
	Requires []string `yaml:"requires"`
}

type profileDoc struct {
	Views    map[string]viewMapping `yaml:"views"`
	Features map[string]featureSpec `yaml:"features"`
}

// ColumnLister reports the physical columns of a table on the live backend.
// A missing table must return an error, which capability computation treats
// as "table has no columns".
type ColumnLister interface {
	ListColumns(ctx context.Context, table string) ([]string, error)
}

// Profile decouples query building from the physical schema of a given
// deployment. The mapping is immutable after load; the derived capability
// map is the only mutable state and is recomputed on explicit request.
type Profile struct {
	name     string
	views    map[string]viewMapping
	features map[string]featureSpec
	logger   *zap.Logger

	mu           sync.RWMutex
	capabilities map[string]bool
}

var identifierRe = regexp.MustCompile(`^\w+$`)

// LoadProfile reads <dir>/<name>.yaml and validates its shape. No partial
// state is retained on failure.
func LoadProfile(dir, name string, logger *zap.Logger) (*Profile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, path)
		}
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}

	var doc profileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProfileParse, path, err)
	}
	if len(doc.Views) == 0 {
		return nil, fmt.Errorf("%w: %s: no views section", ErrProfileParse, path)
	}
	for vname, v := range doc.Views {
		if v.Table == "" {
			return nil, fmt.Errorf("%w: view %q has no table", ErrProfileParse, vname)
		}
	}
	for fname, f := range doc.Features {
		for _, ref := range f.Requires {
			if !strings.Contains(ref, ".") || strings.Count(ref, ".") != 1 {
				return nil, fmt.Errorf("%w: feature %q requirement %q is not view.column", ErrProfileParse, fname, ref)
			}
		}
	}

	logger.Info("schema profile loaded",
		zap.String("profile", name),
		zap.Int("views", len(doc.Views)),
		zap.Int("features", len(doc.Features)),
	)

	return &Profile{
		name:     name,
		views:    doc.Views,
		features: doc.Features,
		logger:   logger,
	}, nil
}

// Name returns the profile's name.
func (p *Profile) Name() string { return p.name }

// ResolveTable returns the physical table for a logical view.
func (p *Profile) ResolveTable(view string) (string, error) {
	v, ok := p.views[view]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnmappedView, view)
	}
	return v.Table, nil
}

// ResolveColumn returns the physical column expression for a logical
// view.column pair.
func (p *Profile) ResolveColumn(view, column string) (string, error) {
	v, ok := p.views[view]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnmappedView, view)
	}
	expr, ok := v.Columns[column]
	if !ok {
		return "", fmt.Errorf("%w: %q.%q", ErrUnmappedColumn, view, column)
	}
	return expr, nil
}

// ComputeCapabilities introspects the backend and recomputes the capability
// map. It never fails: a table listing failure counts as zero columns so one
// missing table does not abort introspection for the others.
//
// A feature is supported iff every required view.column resolves AND, when
// the mapped expression is a bare identifier, the identifier is present in
// the discovered columns of the mapped table. Computed expressions are
// presumed valid once view and column resolve: the profile author, not the
// runtime, owns their physical correctness.
func (p *Profile) ComputeCapabilities(ctx context.Context, lister ColumnLister) {
	discovered := make(map[string]map[string]bool, len(p.views))
	for vname, v := range p.views {
		cols, err := lister.ListColumns(ctx, v.Table)
		if err != nil {
			p.logger.Warn("column listing failed, treating table as empty",
				zap.String("view", vname),
				zap.String("table", v.Table),
				zap.Error(err),
			)
			discovered[vname] = map[string]bool{}
			continue
		}
		set := make(map[string]bool, len(cols))
		for _, c := range cols {
			set[c] = true
		}
		discovered[vname] = set
	}

	caps := make(map[string]bool, len(p.features))
	for fname, f := range p.features {
		caps[fname] = p.featureSupported(f, discovered)
	}

	p.mu.Lock()
	p.capabilities = caps
	p.mu.Unlock()

	p.logger.Info("capabilities computed",
		zap.String("profile", p.name),
		zap.Int("features", len(caps)),
	)
}

func (p *Profile) featureSupported(f featureSpec, discovered map[string]map[string]bool) bool {
	for _, ref := range f.Requires {
		parts := strings.SplitN(ref, ".", 2)
		view, column := parts[0], parts[1]

		v, ok := p.views[view]
		if !ok {
			return false
		}
		expr, ok := v.Columns[column]
		if !ok {
			return false
		}
		if identifierRe.MatchString(expr) && !discovered[view][expr] {
			return false
		}
	}
	return true
}

// IsSupported returns the last computed capability value, false if
// capabilities were never computed. The answer is stale until the next
// explicit ComputeCapabilities call.
func (p *Profile) IsSupported(feature string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capabilities[feature]
}

// CapabilitiesComputed reports whether ComputeCapabilities has run at least
// once. Callers that gate on IsSupported should skip gating until then.
func (p *Profile) CapabilitiesComputed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capabilities != nil
}
