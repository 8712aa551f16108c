package analytics

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/enrolment/internal/core"
)

// Count is the distinct-id count for one dimension value.
type Count struct {
	Value pgtype.Text
	Count int
}

// Facet is one outer group of a two-dimension count.
type Facet struct {
	Key   pgtype.Text
	Inner []Count
	// Total is the distinct-id count over the outer key alone, so a subject
	// listed under several inner values is counted once.
	Total int
}

// InnerMap returns the inner counts keyed by value. Null values use the key
// "null".
func (f Facet) InnerMap() map[string]int {
	m := make(map[string]int, len(f.Inner))
	for _, c := range f.Inner {
		m[keyString(c.Value)] += c.Count
	}
	return m
}

// Count returns distinct ids per value of dim, in first-encountered order.
func (e *Engine) Count(ctx context.Context, role core.Role, dim core.Field, filters ...core.Filter) ([]Count, error) {
	groups, err := e.reader.DistinctCount(ctx, role, core.Query{
		Dimensions: []core.Field{dim},
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("count %s by %s: %w", role, dim, err)
	}
	out := make([]Count, len(groups))
	for i, g := range groups {
		out[i] = Count{Value: g.Values[0], Count: g.Count}
	}
	return out, nil
}

// Total returns the distinct-id count over every row matching filters.
func (e *Engine) Total(ctx context.Context, role core.Role, filters ...core.Filter) (int, error) {
	groups, err := e.reader.DistinctCount(ctx, role, core.Query{Filters: filters})
	if err != nil {
		return 0, fmt.Errorf("total %s: %w", role, err)
	}
	if len(groups) == 0 {
		return 0, nil
	}
	return groups[0].Count, nil
}

// Facet counts distinct ids per (outer, inner) pair and, independently, per
// outer value. Facets are sorted by Total descending; equal totals keep
// first-encountered order. Null inner values are kept unless filters exclude
// them.
func (e *Engine) Facet(ctx context.Context, role core.Role, outer, inner core.Field, filters ...core.Filter) ([]Facet, error) {
	var pairs, totals []core.GroupCount

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pairs, err = e.reader.DistinctCount(gctx, role, core.Query{
			Dimensions: []core.Field{outer, inner},
			Filters:    filters,
		})
		return err
	})
	g.Go(func() error {
		var err error
		totals, err = e.reader.DistinctCount(gctx, role, core.Query{
			Dimensions: []core.Field{outer},
			Filters:    filters,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("facet %s by %s/%s: %w", role, outer, inner, err)
	}

	totalByKey := make(map[string]int, len(totals))
	for _, t := range totals {
		totalByKey[groupKey(t.Values[0])] = t.Count
	}

	var (
		facets []Facet
		index  = make(map[string]int)
	)
	for _, p := range pairs {
		k := groupKey(p.Values[0])
		i, ok := index[k]
		if !ok {
			i = len(facets)
			index[k] = i
			facets = append(facets, Facet{Key: p.Values[0], Total: totalByKey[k]})
		}
		facets[i].Inner = append(facets[i].Inner, Count{Value: p.Values[1], Count: p.Count})
	}

	sort.SliceStable(facets, func(i, j int) bool {
		return facets[i].Total > facets[j].Total
	})
	return facets, nil
}

// groupKey distinguishes null from the empty string.
func groupKey(t pgtype.Text) string {
	if !t.Valid {
		return "\x00null"
	}
	return "\x01" + t.String
}

// keyString renders t as a JSON object key.
func keyString(t pgtype.Text) string {
	if !t.Valid {
		return "null"
	}
	return t.String
}
