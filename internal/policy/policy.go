// Package policy derives per-role access decisions from the instrument taxonomy.
package policy

import (
	"fmt"
	"os"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/ellingard/chartd/internal/parser"
)

// Rule describes what one instrument/role may access.
//
// A chart is accessible when its key token matches one of Keys, or its
// subtype matches one of Subtypes. Audio defaults to accessible for
// every role; set `audio: false` to opt a role out.
type Rule struct {
	Keys     []string `yaml:"keys"`
	Subtypes []string `yaml:"subtypes"`
	Audio    *bool    `yaml:"audio"`
}

// Validate validates a single role rule.
func (r Rule) Validate() error {
	if len(r.Keys) == 0 && len(r.Subtypes) == 0 {
		return fmt.Errorf("rule must list at least one key or subtype")
	}
	return nil
}

type tableFile struct {
	Roles map[string]Rule `yaml:"roles"`
}

// Table is an immutable role → rule lookup table.
type Table struct {
	roles map[string]Rule
}

// ParseTable parses and validates a role table from raw YAML.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("policy: parse: %w", err)
	}
	if err := validation.Validate(f.Roles, validation.Required); err != nil {
		return nil, fmt.Errorf("policy: roles: %w", err)
	}
	for name, rule := range f.Roles {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("policy: role %q: %w", name, err)
		}
	}
	return &Table{roles: f.Roles}, nil
}

// LoadTable reads and parses a role table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return ParseTable(data)
}

// HasRole reports whether the table defines the given role.
func (t *Table) HasRole(role string) bool {
	_, ok := t.roles[role]
	return ok
}

// Roles returns the defined role names in unspecified order.
func (t *Table) Roles() []string {
	out := make([]string, 0, len(t.roles))
	for name := range t.roles {
		out = append(out, name)
	}
	return out
}

// Accessible reports whether a file with the given parse result is
// visible to the role. Unclassified files are never accessible; audio
// is accessible unless the role opts out.
func (t *Table) Accessible(role string, res parser.Result) bool {
	rule, ok := t.roles[role]
	if !ok {
		return false
	}
	switch res.Category {
	case parser.CategoryAudio:
		return rule.Audio == nil || *rule.Audio
	case parser.CategoryChart:
		for _, k := range rule.Keys {
			if strings.EqualFold(k, res.KeyToken) {
				return true
			}
		}
		for _, s := range rule.Subtypes {
			if normalizeSubtype(s) == string(res.Subtype) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// normalizeSubtype folds case and plural spelling ("Chords" → "chord").
func normalizeSubtype(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s")
}

// GroupingKey normalizes a song title so that trivially different
// spellings of the same title collapse into one song folder. Titles
// that diverge beyond case and whitespace stay distinct; that is an
// accepted limitation of the naming convention.
func GroupingKey(res parser.Result) string {
	return strings.Join(strings.Fields(strings.ToLower(res.SongTitle)), " ")
}

// Provider holds the current role table and supports atomic replacement
// when the policy file changes on disk.
type Provider struct {
	mu    sync.RWMutex
	path  string
	table *Table
}

// NewProvider loads the role table from path.
func NewProvider(path string) (*Provider, error) {
	t, err := LoadTable(path)
	if err != nil {
		return nil, err
	}
	return &Provider{path: path, table: t}, nil
}

// Reload re-reads the policy file and swaps the table in. On parse or
// validation failure the previous table stays active.
func (p *Provider) Reload() error {
	t, err := LoadTable(p.path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.table = t
	p.mu.Unlock()
	return nil
}

func (p *Provider) current() *Table {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table
}

// Accessible delegates to the current table.
func (p *Provider) Accessible(role string, res parser.Result) bool {
	return p.current().Accessible(role, res)
}

// HasRole delegates to the current table.
func (p *Provider) HasRole(role string) bool {
	return p.current().HasRole(role)
}

// Roles delegates to the current table.
func (p *Provider) Roles() []string {
	return p.current().Roles()
}
