// Package ingest implements raw intake, format-specific identity parsing,
// idempotency-gated acceptance, and declarative normalization. The
// RuleRegistry below is a hot-reloadable YAML mapping table keyed by the
// exact (source_system, raw_format, schema_hint) triple.
package ingest

import (
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/tenon-core/tenon/internal/types"
)

// Mapping is one declarative raw_path -> canonical_path rule.
type Mapping struct {
	RawPath       string `yaml:"raw_path"`
	CanonicalPath string `yaml:"canonical_path"`
}

// Rule is one normalization rule, keyed by the exact (source_system,
// raw_format, schema_hint) triple it applies to. No fuzzy or partial
// matching is ever performed against this key.
type Rule struct {
	SourceSystem      string          `yaml:"source_system"`
	RawFormat         types.RawFormat `yaml:"raw_format"`
	SchemaHint        string          `yaml:"schema_hint"`
	RuleID            string          `yaml:"rule_id"`
	RuleVersion       string          `yaml:"rule_version"`
	NormalizerVersion string          `yaml:"normalizer_version"`
	Mappings          []Mapping       `yaml:"mappings"`
	LossyFields       []string        `yaml:"lossy_fields"`
}

type ruleKey struct {
	sourceSystem string
	rawFormat    types.RawFormat
	schemaHint   string
}

func keyOf(r Rule) ruleKey {
	return ruleKey{sourceSystem: r.SourceSystem, rawFormat: r.RawFormat, schemaHint: r.SchemaHint}
}

// RuleRegistry is the live, swappable set of normalization rules. Reload
// replaces the whole table atomically so a lookup never observes a
// partially-loaded registry.
type RuleRegistry struct {
	mu    sync.RWMutex
	rules map[ruleKey]Rule
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRuleRegistry parses a YAML rule file into a RuleRegistry keyed by the
// exact (source_system, raw_format, schema_hint) triple.
func LoadRuleRegistry(path string) (*RuleRegistry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc ruleFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse rule registry %s: %w", path, err)
	}
	rules := make(map[ruleKey]Rule, len(doc.Rules))
	for _, r := range doc.Rules {
		rules[keyOf(r)] = r
	}
	return &RuleRegistry{rules: rules}, nil
}

// Lookup returns the rule registered for the exact triple, if any.
func (r *RuleRegistry) Lookup(sourceSystem string, rawFormat types.RawFormat, schemaHint string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[ruleKey{sourceSystem: sourceSystem, rawFormat: rawFormat, schemaHint: schemaHint}]
	return rule, ok
}

// reload replaces the live rule table with a freshly-parsed one.
func (r *RuleRegistry) reload(path string) error {
	fresh, err := LoadRuleRegistry(path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = fresh.rules
	r.mu.Unlock()
	return nil
}

// Watch starts an fsnotify watch on path's containing directory and
// reloads the registry in place whenever the file is written or recreated
// (the common pattern for atomic config deploys: write-then-rename).
// onReload, if non-nil, is called after every reload attempt (nil error on
// success). The returned stop func closes the watcher.
func (r *RuleRegistry) Watch(path string, onReload func(error)) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := path
	if idx := lastSlash(path); idx >= 0 {
		dir = path[:idx]
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				err := r.reload(path)
				if onReload != nil {
					onReload(err)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
