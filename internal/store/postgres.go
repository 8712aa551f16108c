// Package store implements core.Store on PostgreSQL and in memory.
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/enrolment/internal/core"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// rowNoColumn records insert order so groups can be returned in
// first-encountered order.
const rowNoColumn = "row_no"

// Postgres stores each snapshot in its own table.
type Postgres struct {
	pool  *pgxpool.Pool
	locks map[core.Role]*sync.Mutex
}

// NewPostgres creates a Postgres store on pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	p := &Postgres{pool: pool, locks: make(map[core.Role]*sync.Mutex)}
	for _, role := range core.Roles() {
		p.locks[role] = &sync.Mutex{}
	}
	return p
}

// Migrate creates the snapshot tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, spec := range core.Snapshots() {
		for _, stmt := range createTableSQL(spec) {
			if _, err := p.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", spec.Table, err)
			}
		}
	}
	return nil
}

// createTableSQL returns the DDL for one snapshot table. Extended columns are
// only created for snapshots that store them.
func createTableSQL(spec core.SnapshotSpec) []string {
	table := quoteIdentifier(spec.Table)

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	fmt.Fprintf(&b, "    %s INTEGER NOT NULL", rowNoColumn)
	for _, fs := range core.FieldsFor(spec.SupportsExtended) {
		typ := "TEXT"
		if fs.Kind == core.KindInt {
			typ = "INTEGER"
		}
		fmt.Fprintf(&b, ",\n    %s %s", quoteIdentifier(string(fs.Field)), typ)
	}
	b.WriteString("\n)")

	return []string{
		b.String(),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdentifier(spec.Table+"_masked_id_idx"), table, quoteIdentifier(string(core.FieldMaskedID))),
	}
}

func columnsFor(spec core.SnapshotSpec) []string {
	fields := core.FieldsFor(spec.SupportsExtended)
	cols := make([]string, 0, len(fields)+1)
	cols = append(cols, rowNoColumn)
	for _, fs := range fields {
		cols = append(cols, string(fs.Field))
	}
	return cols
}

// Replace deletes every row of role and bulk-inserts rows in one
// transaction. Readers see the previous generation until commit.
func (p *Postgres) Replace(ctx context.Context, role core.Role, rows []core.Row) error {
	return p.ReplaceAll(ctx, core.Batch{role: rows})
}

// ReplaceAll replaces every role in batch in a single transaction, so a
// failure on one role rolls back the others. Role locks are taken in
// registry order.
func (p *Postgres) ReplaceAll(ctx context.Context, batch core.Batch) error {
	specs := make([]core.SnapshotSpec, 0, len(batch))
	for role := range batch {
		if _, err := core.LookupSnapshot(role); err != nil {
			return err
		}
	}
	for _, role := range batch.Roles() {
		spec, _ := core.LookupSnapshot(role)
		specs = append(specs, spec)

		lock := p.locks[role]
		lock.Lock()
		defer lock.Unlock()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, spec := range specs {
		if err := replaceRows(ctx, tx, spec, batch[spec.Role]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func replaceRows(ctx context.Context, db DBTX, spec core.SnapshotSpec, rows []core.Row) error {
	if _, err := db.Exec(ctx, "DELETE FROM "+quoteIdentifier(spec.Table)); err != nil {
		return fmt.Errorf("clear %s: %w", spec.Table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	rows = spec.PrepareRows(rows)
	n, err := db.CopyFrom(ctx, pgx.Identifier{spec.Table}, columnsFor(spec),
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			vals := make([]any, 0, 26)
			vals = append(vals, int32(i))
			return append(vals, rows[i].Values(spec.SupportsExtended)...), nil
		}))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", spec.Table, err)
	}
	if n != int64(len(rows)) {
		return fmt.Errorf("copy into %s: wrote %d of %d rows", spec.Table, n, len(rows))
	}
	return nil
}

// DistinctCount runs q against the table of role.
func (p *Postgres) DistinctCount(ctx context.Context, role core.Role, q core.Query) ([]core.GroupCount, error) {
	return checkedDistinctCount(ctx, p.pool, role, q)
}

// View runs fn inside a read-only REPEATABLE READ transaction, so every
// query fn makes sees the same committed generation of every table.
func (p *Postgres) View(ctx context.Context, fn func(core.Reader) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgView{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// pgView reads through one transaction. A transaction owns a single
// connection, so queries are serialized.
type pgView struct {
	mu sync.Mutex
	tx pgx.Tx
}

func (v *pgView) DistinctCount(ctx context.Context, role core.Role, q core.Query) ([]core.GroupCount, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return checkedDistinctCount(ctx, v.tx, role, q)
}

func checkedDistinctCount(ctx context.Context, db DBTX, role core.Role, q core.Query) ([]core.GroupCount, error) {
	spec, err := core.LookupSnapshot(role)
	if err != nil {
		return nil, err
	}
	if err := spec.CheckQuery(q); err != nil {
		return nil, err
	}
	return distinctCount(ctx, db, spec, q)
}

func distinctCount(ctx context.Context, db DBTX, spec core.SnapshotSpec, q core.Query) ([]core.GroupCount, error) {
	sql, args := buildDistinctQuery(spec.Table, q)

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Table, err)
	}
	defer rows.Close()

	var out []core.GroupCount
	for rows.Next() {
		values := make([]pgtype.Text, len(q.Dimensions))
		dest := make([]any, 0, len(values)+1)
		for i := range values {
			dest = append(dest, &values[i])
		}
		var count int64
		dest = append(dest, &count)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", spec.Table, err)
		}
		out = append(out, core.GroupCount{Values: values, Count: int(count)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", spec.Table, err)
	}
	return out, nil
}

// buildDistinctQuery renders q as
//
//	SELECT d1::text, ..., COUNT(DISTINCT masked_id) FROM t
//	WHERE ... GROUP BY d1, ... ORDER BY MIN(row_no)
//
// Text matching is case-insensitive. Values are always bound as arguments.
func buildDistinctQuery(table string, q core.Query) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)

	b.WriteString("SELECT ")
	dims := make([]string, len(q.Dimensions))
	for i, d := range q.Dimensions {
		dims[i] = quoteIdentifier(string(d))
		fmt.Fprintf(&b, "%s::text, ", dims[i])
	}
	fmt.Fprintf(&b, "COUNT(DISTINCT %s) FROM %s", quoteIdentifier(string(core.FieldMaskedID)), quoteIdentifier(table))

	if len(q.Filters) > 0 {
		conds := make([]string, len(q.Filters))
		for i, f := range q.Filters {
			col := quoteIdentifier(string(f.Field))
			switch f.Op {
			case core.OpNotNull:
				conds[i] = col + " IS NOT NULL"
			case core.OpEquals:
				args = append(args, f.Value)
				conds[i] = fmt.Sprintf("LOWER(%s::text) = LOWER($%d)", col, len(args))
			case core.OpStartsWith:
				args = append(args, escapeLike(f.Value)+"%")
				conds[i] = fmt.Sprintf("%s::text ILIKE $%d", col, len(args))
			case core.OpContains:
				args = append(args, "%"+escapeLike(f.Value)+"%")
				conds[i] = fmt.Sprintf("%s::text ILIKE $%d", col, len(args))
			default:
				conds[i] = "FALSE"
			}
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	if len(dims) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s ORDER BY MIN(%s)", strings.Join(dims, ", "), rowNoColumn)
	}
	return b.String(), args
}

// RowCount returns the number of rows in the table of role.
func (p *Postgres) RowCount(ctx context.Context, role core.Role) (int64, error) {
	spec, err := core.LookupSnapshot(role)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdentifier(spec.Table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", spec.Table, err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// quoteIdentifier quotes a SQL identifier to prevent SQL injection.
// Doubles any embedded double quotes per the SQL standard.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLike escapes the LIKE wildcards in s using the default backslash escape.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

var _ core.Store = (*Postgres)(nil)
