package core

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// FilterOp is a predicate applied to one field.
type FilterOp int

const (
	OpNotNull FilterOp = iota
	OpEquals
	OpStartsWith
	OpContains
)

func (op FilterOp) String() string {
	switch op {
	case OpNotNull:
		return "not_null"
	case OpEquals:
		return "eq"
	case OpStartsWith:
		return "starts"
	case OpContains:
		return "contains"
	}
	return "unknown"
}

// Filter restricts the rows a query considers. Text matching is
// case-insensitive; a null value never matches any operator.
type Filter struct {
	Field Field
	Op    FilterOp
	Value string
}

// NotNull keeps rows where f is set.
func NotNull(f Field) Filter { return Filter{Field: f, Op: OpNotNull} }

// Equals keeps rows where f equals v.
func Equals(f Field, v string) Filter { return Filter{Field: f, Op: OpEquals, Value: v} }

// StartsWith keeps rows where f begins with v.
func StartsWith(f Field, v string) Filter { return Filter{Field: f, Op: OpStartsWith, Value: v} }

// Contains keeps rows where f contains v.
func Contains(f Field, v string) Filter { return Filter{Field: f, Op: OpContains, Value: v} }

// Match evaluates the filter against r.
func (f Filter) Match(r *Row) bool {
	v := r.Text(f.Field)
	if !v.Valid {
		return false
	}
	switch f.Op {
	case OpNotNull:
		return true
	case OpEquals:
		return strings.EqualFold(v.String, f.Value)
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(v.String), strings.ToLower(f.Value))
	case OpContains:
		return strings.Contains(strings.ToLower(v.String), strings.ToLower(f.Value))
	}
	return false
}

// Query asks for distinct masked_id counts grouped by Dimensions.
// With no dimensions the result is a single group covering every match.
type Query struct {
	Dimensions []Field
	Filters    []Filter
}

// MatchAll reports whether r passes every filter of q.
func (q Query) MatchAll(r *Row) bool {
	for _, f := range q.Filters {
		if !f.Match(r) {
			return false
		}
	}
	return true
}

// GroupCount is one result group. Values align with Query.Dimensions and
// hold the text form of each dimension; null dimension values are Valid=false.
type GroupCount struct {
	Values []pgtype.Text
	Count  int
}

// Reader answers distinct-count queries. Groups are returned in
// first-encountered row order.
type Reader interface {
	DistinctCount(ctx context.Context, role Role, q Query) ([]GroupCount, error)
}

// Batch is the set of snapshot generations written by one upload.
type Batch map[Role][]Row

// Store is the snapshot storage contract.
//
// Replace and ReplaceAll are atomic to readers: a reader sees either the old
// or the new generation of every role in the batch, never a mix, and a failed
// write leaves every role as it was. Writers are serialized per role.
// View runs fn against one consistent generation of every role.
type Store interface {
	Reader
	Replace(ctx context.Context, role Role, rows []Row) error
	ReplaceAll(ctx context.Context, batch Batch) error
	View(ctx context.Context, fn func(Reader) error) error
	RowCount(ctx context.Context, role Role) (int64, error)
	Ping(ctx context.Context) error
}

// Roles returns the roles in b in registry order.
func (b Batch) Roles() []Role {
	out := make([]Role, 0, len(b))
	for _, role := range Roles() {
		if _, ok := b[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

// PrepareRows returns rows shaped for the snapshot: extended fields are
// cleared when the snapshot does not store them.
func (s SnapshotSpec) PrepareRows(rows []Row) []Row {
	if s.SupportsExtended {
		return rows
	}
	out := make([]Row, len(rows))
	for i := range rows {
		out[i] = rows[i].WithoutExtended()
	}
	return out
}
