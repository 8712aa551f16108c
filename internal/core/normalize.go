package core

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliasYAML []byte

// AliasTable maps normalized source column names to canonical fields.
type AliasTable struct {
	byKey   map[string]Field
	aliases map[Field][]string
}

// ParseAliasTable parses a YAML document of the form
//
//	canonical_field:
//	  - alias one
//	  - alias two
//
// Every canonical field accepts its own name. An alias claimed by two
// fields, or an unknown canonical field, is an error.
func ParseAliasTable(data []byte) (*AliasTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse alias table: %w", err)
	}

	t := &AliasTable{
		byKey:   make(map[string]Field),
		aliases: make(map[Field][]string),
	}

	claim := func(key string, f Field) error {
		if key == "" {
			return nil
		}
		if owner, ok := t.byKey[key]; ok && owner != f {
			return fmt.Errorf("alias %q claimed by both %s and %s", key, owner, f)
		}
		t.byKey[key] = f
		return nil
	}

	for _, spec := range fieldSpecs {
		if err := claim(HeaderKey(string(spec.Field)), spec.Field); err != nil {
			return nil, err
		}
		t.aliases[spec.Field] = []string{string(spec.Field)}
	}

	// Sorted for deterministic conflict messages.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := Field(name)
		if !f.Valid() {
			return nil, fmt.Errorf("alias table: unknown field %q", name)
		}
		for _, alias := range raw[name] {
			if err := claim(HeaderKey(alias), f); err != nil {
				return nil, err
			}
			t.aliases[f] = append(t.aliases[f], alias)
		}
	}

	return t, nil
}

var (
	defaultAliasesOnce sync.Once
	defaultAliases     *AliasTable
)

// DefaultAliasTable returns the embedded alias table.
func DefaultAliasTable() *AliasTable {
	defaultAliasesOnce.Do(func() {
		t, err := ParseAliasTable(defaultAliasYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded alias table: %v", err))
		}
		defaultAliases = t
	})
	return defaultAliases
}

// Resolve returns the canonical field for a source header.
func (t *AliasTable) Resolve(header string) (Field, bool) {
	f, ok := t.byKey[HeaderKey(header)]
	return f, ok
}

// Aliases returns the accepted names for f, canonical name first.
func (t *AliasTable) Aliases(f Field) []string {
	return append([]string(nil), t.aliases[f]...)
}

// NormalizedFile is one upload mapped onto the Row model.
type NormalizedFile struct {
	Name string
	Rows []Row
	// Mapped records which source column fed each canonical field.
	Mapped map[Field]string
	// Extended lists the extended fields present in the source, in column order.
	Extended []Field
	// Ignored lists source columns that matched no field.
	Ignored []string
}

// HasField reports whether the source carried a column for f.
func (nf NormalizedFile) HasField(f Field) bool {
	_, ok := nf.Mapped[f]
	return ok
}

// Normalizer maps raw tables onto the canonical Row model.
type Normalizer struct {
	aliases *AliasTable
}

// NewNormalizer creates a Normalizer. A nil table uses DefaultAliasTable.
func NewNormalizer(aliases *AliasTable) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliasTable()
	}
	return &Normalizer{aliases: aliases}
}

// Normalize maps t onto Rows. Unknown columns are ignored and missing fields
// stay null. Returns *SchemaError when a required field has no column.
// Blank rows are skipped.
func (n *Normalizer) Normalize(t Table) (NormalizedFile, error) {
	out := NormalizedFile{
		Name:   t.Name,
		Mapped: make(map[Field]string),
	}

	// column position per field; first matching column wins
	positions := make(map[Field]int)
	order := make([]Field, 0, len(t.Columns))
	for i, col := range t.Columns {
		f, ok := n.aliases.Resolve(col)
		if !ok {
			if HeaderKey(col) != "" {
				out.Ignored = append(out.Ignored, col)
			}
			continue
		}
		if _, dup := positions[f]; dup {
			out.Ignored = append(out.Ignored, col)
			continue
		}
		positions[f] = i
		order = append(order, f)
		out.Mapped[f] = col
		if f.Extended() {
			out.Extended = append(out.Extended, f)
		}
	}

	for _, spec := range fieldSpecs {
		if !spec.Required {
			continue
		}
		if _, ok := positions[spec.Field]; !ok {
			return NormalizedFile{}, &SchemaError{File: t.Name, Field: spec.Field}
		}
	}

	out.Rows = make([]Row, 0, len(t.Rows))
	for i, rec := range t.Rows {
		if isEmptyRow(rec) {
			continue
		}
		var row Row
		for _, f := range order {
			row.Set(f, t.Cell(i, positions[f]))
		}
		out.Rows = append(out.Rows, row)
	}

	return out, nil
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
