package store

import (
	"context"
	"maps"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/enrolment/internal/core"
)

// Memory is an in-process Store. The store holds one immutable generation
// per role. Writers build the next generations off to the side and swap them
// in together, so a reader sees either the old rows or the new rows of every
// role in a batch, never a mix.
type Memory struct {
	mu   sync.RWMutex // guards gens
	gens map[core.Role][]core.Row
}

// NewMemory creates an empty in-memory store with every registered role.
func NewMemory() *Memory {
	m := &Memory{gens: make(map[core.Role][]core.Row)}
	for _, role := range core.Roles() {
		m.gens[role] = nil
	}
	return m
}

// Replace swaps the generation of role for rows.
func (m *Memory) Replace(ctx context.Context, role core.Role, rows []core.Row) error {
	return m.ReplaceAll(ctx, core.Batch{role: rows})
}

// ReplaceAll swaps the generation of every role in batch at once. Nothing is
// swapped if any role is unknown.
func (m *Memory) ReplaceAll(ctx context.Context, batch core.Batch) error {
	next := make(map[core.Role][]core.Row, len(batch))
	for role, rows := range batch {
		spec, err := core.LookupSnapshot(role)
		if err != nil {
			return err
		}
		gen := make([]core.Row, len(rows))
		copy(gen, spec.PrepareRows(rows))
		next[role] = gen
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	gens := maps.Clone(m.gens)
	maps.Copy(gens, next)
	m.gens = gens
	m.mu.Unlock()
	return nil
}

func (m *Memory) current() memView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return memView{gens: m.gens}
}

// View runs fn against the generations current when View is called.
// Replaces that land while fn runs are not visible to it.
func (m *Memory) View(_ context.Context, fn func(core.Reader) error) error {
	return fn(m.current())
}

// RowCount returns the size of the current generation.
func (m *Memory) RowCount(_ context.Context, role core.Role) (int64, error) {
	if _, err := core.LookupSnapshot(role); err != nil {
		return 0, err
	}
	return int64(len(m.current().gens[role])), nil
}

// DistinctCount groups the current generation of role by q.Dimensions and
// counts distinct masked ids per group, in first-encountered order.
func (m *Memory) DistinctCount(ctx context.Context, role core.Role, q core.Query) ([]core.GroupCount, error) {
	return m.current().DistinctCount(ctx, role, q)
}

// memView is a fixed set of generations. The map is never mutated after it
// is published.
type memView struct {
	gens map[core.Role][]core.Row
}

func (v memView) DistinctCount(ctx context.Context, role core.Role, q core.Query) ([]core.GroupCount, error) {
	spec, err := core.LookupSnapshot(role)
	if err != nil {
		return nil, err
	}
	if err := spec.CheckQuery(q); err != nil {
		return nil, err
	}

	rows := v.gens[role]

	type group struct {
		values []pgtype.Text
		ids    map[string]struct{}
	}
	var (
		order  []string
		groups = make(map[string]*group)
	)

	if len(q.Dimensions) == 0 {
		// one group even when nothing matches
		order = append(order, "")
		groups[""] = &group{ids: make(map[string]struct{})}
	}

	for i := range rows {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := &rows[i]
		if !q.MatchAll(r) {
			continue
		}

		values := make([]pgtype.Text, len(q.Dimensions))
		for j, d := range q.Dimensions {
			values[j] = r.Text(d)
		}
		key := groupKey(values)

		g, ok := groups[key]
		if !ok {
			g = &group{values: values, ids: make(map[string]struct{})}
			groups[key] = g
			order = append(order, key)
		}
		if r.MaskedID.Valid {
			g.ids[r.MaskedID.String] = struct{}{}
		}
	}

	out := make([]core.GroupCount, 0, len(order))
	for _, key := range order {
		g := groups[key]
		out = append(out, core.GroupCount{Values: g.values, Count: len(g.ids)})
	}
	return out, nil
}

// groupKey encodes dimension values so that null and "" stay distinct.
func groupKey(values []pgtype.Text) string {
	var b strings.Builder
	for _, v := range values {
		if !v.Valid {
			b.WriteString("\x00N")
			continue
		}
		b.WriteString("\x00V")
		b.WriteString(v.String)
	}
	return b.String()
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

var _ core.Store = (*Memory)(nil)
