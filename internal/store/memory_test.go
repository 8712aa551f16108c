package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/enrolment/internal/core"
)

func row(kv ...string) core.Row {
	var r core.Row
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(core.Field(kv[i]), kv[i+1])
	}
	return r
}

func TestMemory_ReplaceAndCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "gender", "F", "masked_id", "A1"),
		row("faculty_descr", "Eng", "gender", "M", "masked_id", "A2"),
		row("faculty_descr", "Eng", "gender", "F", "masked_id", "A1"),
	}))

	n, err := m.RowCount(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	groups, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{
		Dimensions: []core.Field{core.FieldFacultyDescr, core.FieldGender},
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "F", groups[0].Values[1].String)
	assert.Equal(t, 1, groups[0].Count)
	assert.Equal(t, "M", groups[1].Values[1].String)
	assert.Equal(t, 1, groups[1].Count)

	total, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{})
	require.NoError(t, err)
	require.Len(t, total, 1)
	assert.Equal(t, 2, total[0].Count)
}

func TestMemory_ReplaceDiscardsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{row("masked_id", "A1"), row("masked_id", "A2")}))
	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{row("masked_id", "B1")}))

	n, err := m.RowCount(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_RolesAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Replace(ctx, core.RoleBeforeCensus, []core.Row{row("masked_id", "A1")}))

	n, err := m.RowCount(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemory_UnknownRole(t *testing.T) {
	m := NewMemory()
	err := m.Replace(context.Background(), core.Role("ARCHIVE"), nil)

	var roleErr *core.UnknownRoleError
	require.ErrorAs(t, err, &roleErr)
	assert.Equal(t, core.Role("ARCHIVE"), roleErr.Role)
}

func TestMemory_ReplaceAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{row("masked_id", "old")}))

	err := m.ReplaceAll(ctx, core.Batch{
		core.RoleCurrent:     {row("masked_id", "A1"), row("masked_id", "A2")},
		core.Role("ARCHIVE"): {row("masked_id", "X1")},
	})
	var roleErr *core.UnknownRoleError
	require.ErrorAs(t, err, &roleErr)

	n, err := m.RowCount(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed batch leaves every role untouched")

	require.NoError(t, m.ReplaceAll(ctx, core.Batch{
		core.RolePrevious: {row("masked_id", "P1")},
		core.RoleCurrent:  {row("masked_id", "C1"), row("masked_id", "C2")},
	}))
	n, err = m.RowCount(ctx, core.RolePrevious)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = m.RowCount(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemory_ViewIgnoresLaterReplace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{row("masked_id", "A1")}))

	err := m.View(ctx, func(r core.Reader) error {
		before, err := r.DistinctCount(ctx, core.RoleCurrent, core.Query{})
		require.NoError(t, err)

		require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{
			row("masked_id", "B1"), row("masked_id", "B2"), row("masked_id", "B3"),
		}))

		after, err := r.DistinctCount(ctx, core.RoleCurrent, core.Query{})
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Equal(t, 1, after[0].Count)
		return nil
	})
	require.NoError(t, err)

	groups, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{})
	require.NoError(t, err)
	assert.Equal(t, 3, groups[0].Count)
}

func TestMemory_PreviousDropsExtendedFields(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Replace(ctx, core.RolePrevious, []core.Row{
		row("faculty_descr", "Sci", "gender", "F", "masked_id", "A1"),
	}))

	_, err := m.DistinctCount(ctx, core.RolePrevious, core.Query{Dimensions: []core.Field{core.FieldGender}})
	var unsupported *core.UnsupportedFieldError
	require.ErrorAs(t, err, &unsupported)

	stored := m.current().gens[core.RolePrevious]
	require.Len(t, stored, 1)
	assert.False(t, stored[0].Gender.Valid)
	assert.True(t, stored[0].FacultyDescr.Valid)
}

func TestMemory_Filters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{
		row("course_code", "CDEV1001", "term_descr", "Semester 1 Canberra", "masked_id", "A1"),
		row("course_code", "cdev2002", "term_descr", "Term 1", "masked_id", "A2"),
		row("course_code", "MATH1001", "term_descr", "Semester 1 Canberra", "masked_id", "A3"),
		row("term_descr", "Semester 1 Canberra", "masked_id", "A4"),
	}))

	tests := []struct {
		name   string
		filter core.Filter
		want   int
	}{
		{"starts with is case-insensitive", core.StartsWith(core.FieldCourseCode, "CDEV"), 2},
		{"contains", core.Contains(core.FieldTermDescr, "semester 1"), 3},
		{"equals", core.Equals(core.FieldTermDescr, "TERM 1"), 1},
		{"not null", core.NotNull(core.FieldCourseCode), 3},
		{"null never matches", core.StartsWith(core.FieldCourseCode, ""), 3},
		{"wildcards are literal", core.Contains(core.FieldCourseCode, "%"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{Filters: []core.Filter{tt.filter}})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Count)
		})
	}
}

func TestMemory_NullDimensionAndNullID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Replace(ctx, core.RoleCurrent, []core.Row{
		row("gender", "F", "masked_id", "A1"),
		row("masked_id", "A2"),
		row("gender", "", "masked_id", "A3"),
		row("gender", "M"),
	}))

	groups, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{Dimensions: []core.Field{core.FieldGender}})
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "F", groups[0].Values[0].String)
	assert.False(t, groups[1].Values[0].Valid, "blank and missing values group as null")
	assert.Equal(t, 2, groups[1].Count)
	assert.Equal(t, "M", groups[2].Values[0].String)
	assert.Zero(t, groups[2].Count, "rows without masked_id are not counted")
}

func TestMemory_FirstEncounteredOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var rows []core.Row
	for i, fac := range []string{"Sci", "Arts", "Eng", "Arts", "Sci", "Law"} {
		rows = append(rows, row("faculty_descr", fac, "masked_id", fmt.Sprintf("S%d", i)))
	}
	require.NoError(t, m.Replace(ctx, core.RoleCurrent, rows))

	groups, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{Dimensions: []core.Field{core.FieldFacultyDescr}})
	require.NoError(t, err)

	var order []string
	for _, g := range groups {
		order = append(order, g.Values[0].String)
	}
	assert.Equal(t, []string{"Sci", "Arts", "Eng", "Law"}, order)
}

// Readers running during a stream of replaces must only ever observe a
// complete generation.
func TestMemory_ReplaceIsAtomicForReaders(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	generation := func(size int) []core.Row {
		rows := make([]core.Row, size)
		for i := range rows {
			rows[i] = row("faculty_descr", "Eng", "masked_id", fmt.Sprintf("G%d-%d", size, i))
		}
		return rows
	}
	sizes := []int{10, 20, 30, 40, 50}
	valid := map[int]bool{0: true}
	for _, s := range sizes {
		valid[s] = true
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				groups, err := m.DistinctCount(ctx, core.RoleCurrent, core.Query{})
				if err != nil {
					t.Errorf("DistinctCount: %v", err)
					return
				}
				if !valid[groups[0].Count] {
					t.Errorf("observed partial generation of %d rows", groups[0].Count)
					return
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for _, size := range sizes {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 20; j++ {
				if err := m.Replace(ctx, core.RoleCurrent, generation(size)); err != nil {
					t.Errorf("Replace: %v", err)
					return
				}
			}
		}()
	}
	writers.Wait()
	close(stop)
	wg.Wait()
}

func TestMemory_ReplaceHonoursCancelledContext(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Replace(context.Background(), core.RoleCurrent, []core.Row{row("masked_id", "A1")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Replace(ctx, core.RoleCurrent, nil)
	require.ErrorIs(t, err, context.Canceled)

	n, err := m.RowCount(context.Background(), core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed replace keeps the previous generation")
}
