package analytics_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/enrolment/internal/analytics"
	"github.com/JonMunkholm/enrolment/internal/config"
	"github.com/JonMunkholm/enrolment/internal/core"
	"github.com/JonMunkholm/enrolment/internal/store"
)

var uploadConfig = config.UploadConfig{
	MaxConcurrent: 6,
	MaxWaitTime:   time.Second,
	Timeout:       time.Minute,
}

type fixture struct {
	store  *store.Memory
	svc    *core.Service
	engine *analytics.Engine
}

func newFixture() *fixture {
	mem := store.NewMemory()
	return &fixture{
		store:  mem,
		svc:    core.NewService(mem, uploadConfig),
		engine: analytics.NewEngine(mem),
	}
}

func (f *fixture) upload(t *testing.T, mode core.AnalysisMode, tables ...core.Table) *core.BatchResult {
	t.Helper()
	res, err := f.svc.BatchUpload(context.Background(), mode, tables)
	require.NoError(t, err)
	return res
}

func csvTable(name string, columns []string, rows ...[]string) core.Table {
	return core.Table{Name: name, Columns: columns, Rows: rows}
}

// ids builds n rows for one faculty and year with masked ids prefix-0..n-1.
func ids(year int, faculty, prefix string, n int) [][]string {
	out := make([][]string, n)
	for i := range out {
		out[i] = []string{fmt.Sprint(year), faculty, fmt.Sprintf("%s%d", prefix, i)}
	}
	return out
}

var yearFacultyID = []string{"ACADEMIC_YEAR", "FACULTY_DESCR", "MASKED_ID"}

func TestScenario_DefaultUploadDeduplicatesGender(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.upload(t, core.ModeDefault, csvTable("current.csv",
		[]string{"ACADEMIC_YEAR", "FACULTY_DESCR", "GENDER", "MASKED_ID"},
		[]string{"2024", "Eng", "F", "A1"},
		[]string{"2024", "Eng", "M", "A2"},
		[]string{"2024", "Eng", "F", "A1"},
	))

	n, err := f.store.RowCount(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	r, err := f.engine.GenderParticipation(ctx)
	require.NoError(t, err)
	require.Len(t, r.ByFaculty, 1)
	assert.Equal(t, "Eng", r.ByFaculty[0].FacultyDescr.String)
	assert.Equal(t, map[string]int{"F": 1, "M": 1}, r.ByFaculty[0].GenderCounts)
	assert.Equal(t, 2, r.ByFaculty[0].TotalCount)

	require.Len(t, r.Participation, 2)
	assert.Equal(t, "F", r.Participation[0].Gender.String)
	assert.Equal(t, 1, r.Participation[0].Count)
}

func TestScenario_CensusDayDrop(t *testing.T) {
	f := newFixture()
	cols := []string{"ACADEMIC_YEAR", "FACULTY_DESCR", "MASKED_ID", "TERM_DESCR"}

	f.upload(t, core.ModeCensusDay,
		csvTable("before.csv", cols,
			[]string{"2024", "Eng", "A1", "Term 1"},
			[]string{"2024", "Eng", "A2", "Term 1"},
			[]string{"2024", "Eng", "A3", "Term 1"},
		),
		csvTable("after.csv", cols,
			[]string{"2024", "Eng", "A1", "Term 1"},
			[]string{"2024", "Eng", "A2", "Term 1"},
		),
	)

	drops, err := f.engine.CensusGenderDrop(context.Background(), "Term 1")
	require.NoError(t, err)
	require.Len(t, drops, 1)

	d := drops[0]
	assert.Equal(t, "Eng", d.FacultyDescr.String)
	assert.Equal(t, "Term 1", d.Term)
	assert.Equal(t, 3, d.TotalBefore)
	assert.Equal(t, 2, d.TotalAfter)
	assert.Equal(t, 1, d.TotalDrop)
	assert.Equal(t, 33.33, d.TotalDropRate)

	require.Len(t, d.GenderBreakdown, 1)
	assert.False(t, d.GenderBreakdown[0].Gender.Valid, "gender column absent")
	assert.Equal(t, 1, d.GenderBreakdown[0].DropCount)
	assert.Equal(t, 33.33, d.GenderBreakdown[0].DropRate)
}

func TestScenario_YearOverYearIsOrderIndependent(t *testing.T) {
	for _, order := range [][]string{{"B", "A"}, {"A", "B"}} {
		t.Run(order[0]+order[1], func(t *testing.T) {
			f := newFixture()
			files := map[string]core.Table{
				"A": csvTable("a.csv", yearFacultyID, ids(2023, "Sci", "a", 10)...),
				"B": csvTable("b.csv", yearFacultyID, ids(2024, "Sci", "b", 15)...),
			}

			res := f.upload(t, core.ModeYoYComparison, files[order[0]], files[order[1]])
			prev, ok := res.Placement(core.RolePrevious)
			require.True(t, ok)
			assert.Equal(t, "a.csv", prev.File)

			yoy, err := f.engine.YearOverYear(context.Background())
			require.NoError(t, err)
			require.Len(t, yoy, 1)
			assert.Equal(t, analytics.YearCounts{"2023": 10, "2024": 15}, yoy[0].Years)
			assert.Equal(t, 25, yoy[0].Total)

			raw, err := json.Marshal(yoy[0])
			require.NoError(t, err)
			assert.JSONEq(t, `{
				"faculty_descr": "Sci",
				"2023": 10,
				"2024": 15,
				"residency_breakdown": [{"residency_group_descr": null, "2023": 10, "2024": 15}]
			}`, string(raw))
		})
	}
}

func TestYearOverYear_MissingSideIsZero(t *testing.T) {
	f := newFixture()

	prev := append(ids(2023, "Sci", "s", 2), ids(2023, "Law", "l", 3)...)
	f.upload(t, core.ModeYoYComparison,
		csvTable("prev.csv", yearFacultyID, prev...),
		csvTable("curr.csv", yearFacultyID, ids(2024, "Sci", "c", 4)...),
	)

	yoy, err := f.engine.YearOverYear(context.Background())
	require.NoError(t, err)
	require.Len(t, yoy, 2)

	assert.Equal(t, "Sci", yoy[0].FacultyDescr.String)
	assert.Equal(t, analytics.YearCounts{"2023": 2, "2024": 4}, yoy[0].Years)

	assert.Equal(t, "Law", yoy[1].FacultyDescr.String)
	assert.Equal(t, analytics.YearCounts{"2023": 3, "2024": 0}, yoy[1].Years)
	require.Len(t, yoy[1].ResidencyBreakdown, 1)
	assert.Equal(t, analytics.YearCounts{"2023": 3, "2024": 0}, yoy[1].ResidencyBreakdown[0].Years)

	raw, err := json.Marshal(yoy[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"faculty_descr": "Law",
		"2023": 3,
		"2024": 0,
		"residency_breakdown": [{"residency_group_descr": null, "2023": 3, "2024": 0}]
	}`, string(raw))
}

func TestScenario_CensusYoYPlacesThirdFilePositionally(t *testing.T) {
	f := newFixture()

	res := f.upload(t, core.ModeCensusYoY,
		csvTable("y2023.csv", yearFacultyID, ids(2023, "Sci", "p", 2)...),
		csvTable("y2024.csv", yearFacultyID, ids(2024, "Sci", "b", 3)...),
		csvTable("any.csv", yearFacultyID, ids(2019, "Sci", "c", 4)...),
	)

	want := map[core.Role]string{
		core.RolePrevious:     "y2023.csv",
		core.RoleBeforeCensus: "y2024.csv",
		core.RoleCurrent:      "any.csv",
	}
	for role, file := range want {
		p, ok := res.Placement(role)
		require.True(t, ok, role)
		assert.Equal(t, file, p.File, role)
	}
	assert.True(t, res.ComplexAnalysisReady)
}

func TestScenario_MissingGenderColumn(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.upload(t, core.ModeDefault, csvTable("nogender.csv", yearFacultyID, ids(2024, "Eng", "e", 4)...))

	r, err := f.engine.GenderParticipation(ctx)
	require.NoError(t, err)
	assert.Empty(t, r.Participation)
	assert.Empty(t, r.ByFaculty)

	counts, err := f.engine.Count(ctx, core.RoleCurrent, core.FieldFacultyDescr)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, 4, counts[0].Count)
}

func TestFacet_TotalIsIndependentOfInnerSum(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	// S1 is listed under two SES bands; the faculty total counts it once.
	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "ses", "Low", "masked_id", "S1"),
		row("faculty_descr", "Eng", "ses", "High", "masked_id", "S1"),
		row("faculty_descr", "Eng", "ses", "High", "masked_id", "S2"),
	}))

	facets, err := e.Facet(ctx, core.RoleCurrent, core.FieldFacultyDescr, core.FieldSES, core.NotNull(core.FieldSES))
	require.NoError(t, err)
	require.Len(t, facets, 1)
	assert.Equal(t, 2, facets[0].Total)
	assert.Equal(t, map[string]int{"Low": 1, "High": 2}, facets[0].InnerMap())
}

func TestFacet_SortedByTotalDescStable(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	var rows []core.Row
	add := func(faculty string, n int) {
		for i := 0; i < n; i++ {
			rows = append(rows, row("faculty_descr", faculty, "gender", "F", "masked_id", fmt.Sprintf("%s%d", faculty, i)))
		}
	}
	add("Arts", 1)
	add("Eng", 3)
	add("Law", 1)
	add("Sci", 3)
	add("Bus", 2)
	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, rows))

	facets, err := e.Facet(ctx, core.RoleCurrent, core.FieldFacultyDescr, core.FieldGender)
	require.NoError(t, err)

	var got []string
	for _, f := range facets {
		got = append(got, f.Key.String)
	}
	assert.Equal(t, []string{"Eng", "Sci", "Bus", "Arts", "Law"}, got)
}

func TestCount_SumNeverExceedsTotal(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "course_code", "ENG1", "masked_id", "A"),
		row("faculty_descr", "Eng", "course_code", "ENG2", "masked_id", "A"),
		row("faculty_descr", "Sci", "course_code", "SCI1", "masked_id", "B"),
		row("faculty_descr", "Sci", "course_code", "SCI1", "masked_id", "C"),
	}))

	total, err := e.Total(ctx, core.RoleCurrent)
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	sum := func(dim core.Field) int {
		counts, err := e.Count(ctx, core.RoleCurrent, dim)
		require.NoError(t, err)
		s := 0
		for _, c := range counts {
			s += c.Count
		}
		return s
	}
	// faculty is exclusive per subject here; course is not
	assert.Equal(t, total, sum(core.FieldFacultyDescr))
	assert.GreaterOrEqual(t, sum(core.FieldCourseCode), total)
}

func TestCensusGenderDrop_ZeroBeforeMeansZeroRate(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	require.NoError(t, mem.Replace(ctx, core.RoleBeforeCensus, []core.Row{
		row("faculty_descr", "Eng", "gender", "F", "term_descr", "Term 2", "masked_id", "E1"),
	}))
	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "gender", "F", "term_descr", "Term 2", "masked_id", "E1"),
		row("faculty_descr", "Sci", "gender", "M", "term_descr", "Term 2", "masked_id", "S1"),
		row("faculty_descr", "Sci", "gender", "M", "term_descr", "Term 2", "masked_id", "S2"),
	}))

	drops, err := e.CensusGenderDrop(ctx, "Term 2")
	require.NoError(t, err)
	require.Len(t, drops, 2)

	// Eng: 0 drop; Sci: -2 drop
	assert.Equal(t, "Eng", drops[0].FacultyDescr.String)
	sci := drops[1]
	assert.Equal(t, "Sci", sci.FacultyDescr.String)
	assert.Equal(t, 0, sci.TotalBefore)
	assert.Equal(t, 2, sci.TotalAfter)
	assert.Equal(t, -2, sci.TotalDrop)
	assert.Zero(t, sci.TotalDropRate)
	assert.Zero(t, sci.GenderBreakdown[0].DropRate)
}

func TestCensusGenderDrop_TermHandling(t *testing.T) {
	e := analytics.NewEngine(store.NewMemory())

	drops, err := e.CensusGenderDrop(context.Background(), "")
	require.NoError(t, err)
	assert.NotNil(t, drops)
	assert.Empty(t, drops)

	_, err = e.CensusGenderDrop(context.Background(), "Term 9")
	var termErr *analytics.InvalidTermError
	require.ErrorAs(t, err, &termErr)
	assert.Equal(t, "RPT001", core.MapError(err).Code)
}

func TestCensusComparison(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	require.NoError(t, mem.Replace(ctx, core.RoleBeforeCensus, []core.Row{
		row("faculty_descr", "Eng", "masked_id", "E1"),
		row("faculty_descr", "Eng", "masked_id", "E2"),
		row("faculty_descr", "Arts", "masked_id", "R1"),
		row("faculty_descr", "Arts", "masked_id", "R2"),
		row("faculty_descr", "Arts", "masked_id", "R3"),
		row("faculty_descr", "Arts", "masked_id", "R4"),
	}))
	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "masked_id", "E1"),
		row("faculty_descr", "Arts", "masked_id", "R1"),
		row("faculty_descr", "Law", "masked_id", "L1"),
	}))

	got, err := e.CensusComparison(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "Arts", got[0].FacultyDescr.String)
	assert.Equal(t, -3, got[0].Difference)
	assert.Equal(t, -75.0, got[0].ChangePercentage)

	// Eng and Law tie on |difference| = 1 and keep encounter order
	assert.Equal(t, "Eng", got[1].FacultyDescr.String)
	assert.Equal(t, -50.0, got[1].ChangePercentage)
	assert.Equal(t, "Law", got[2].FacultyDescr.String)
	assert.Equal(t, 0, got[2].BeforeCensus)
	assert.Equal(t, 1, got[2].AfterCensus)
	assert.Zero(t, got[2].ChangePercentage)
}

func TestEquityCohort(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "first_generation_ind", "Y", "ses", "Low", "regional_remote", "Remote", "masked_id", "E1"),
		row("faculty_descr", "Eng", "first_generation_ind", "N", "ses", "High", "masked_id", "E2"),
		row("faculty_descr", "Sci", "first_generation_ind", "Y", "atsi_group", "Non-Indigenous", "masked_id", "S1"),
		row("faculty_descr", "Sci", "masked_id", "S2"),
	}))

	r, err := e.EquityCohort(ctx)
	require.NoError(t, err)

	require.Len(t, r.FirstGeneration, 2)
	assert.Equal(t, "Eng", r.FirstGeneration[0].FacultyDescr.String)
	assert.Equal(t, 2, r.FirstGeneration[0].Total)
	assert.Equal(t, 1, r.FirstGeneration[1].Total, "unset values are excluded")

	require.Len(t, r.SES, 1)
	require.Len(t, r.ATSIGroup, 1)
	require.Len(t, r.RegionalRemote, 1)
	assert.Equal(t, "Remote", r.RegionalRemote[0].RegionalRemote.String)

	raw, err := json.Marshal(r.FirstGeneration[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"faculty_descr":"Eng","Y":1,"N":1,"total":2}`, string(raw))
}

func TestCDEV(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	e := analytics.NewEngine(mem)

	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("course_code", "CDEV100", "course_name", "Careers", "residency_group_descr", "Domestic", "gender", "F", "masked_id", "A"),
		row("course_code", "CDEV100", "course_name", "Careers", "residency_group_descr", "International", "masked_id", "B"),
		row("course_code", "cdev200", "course_name", "Work Ready", "residency_group_descr", "Domestic", "gender", "M", "masked_id", "C"),
		row("course_code", "ENG100", "course_name", "Statics", "residency_group_descr", "Domestic", "gender", "M", "masked_id", "D"),
	}))

	r, err := e.CDEV(ctx)
	require.NoError(t, err)

	require.Len(t, r.ByResidency, 2)
	assert.Equal(t, "CDEV100", r.ByResidency[0].CourseCode.String)
	assert.Equal(t, "Careers", r.ByResidency[0].CourseName.String)
	assert.Equal(t, 2, r.ByResidency[0].Total)
	assert.Len(t, r.ByResidency[0].ResidencyBreakdown, 2)
	assert.Equal(t, "Work Ready", r.ByResidency[1].CourseName.String)

	// B has no gender and is left out of the gender split
	require.Len(t, r.ByGender, 2)
	assert.Equal(t, 1, r.ByGender[0].Total)
	assert.Equal(t, 1, r.ByGender[1].Total)
}

func TestRun_DispatchesEveryReport(t *testing.T) {
	e := analytics.NewEngine(store.NewMemory())

	for _, m := range core.Modes() {
		plan, err := m.Plan()
		require.NoError(t, err)
		for _, report := range plan.Reports {
			out, err := e.Run(context.Background(), report, "Term 1")
			require.NoError(t, err, report)

			_, err = json.Marshal(out)
			assert.NoError(t, err, report)
		}
	}

	_, err := e.Run(context.Background(), core.Report("nope"), "")
	assert.Error(t, err)
}

// replacingStore swaps CURRENT for a new generation right after the first
// query of a report, the way an upload landing mid-report does.
type replacingStore struct {
	*store.Memory
	next []core.Row
	once sync.Once
}

func (s *replacingStore) View(ctx context.Context, fn func(core.Reader) error) error {
	return s.Memory.View(ctx, func(r core.Reader) error {
		return fn(&replacingReader{Reader: r, store: s})
	})
}

type replacingReader struct {
	core.Reader
	store *replacingStore
}

func (r *replacingReader) DistinctCount(ctx context.Context, role core.Role, q core.Query) ([]core.GroupCount, error) {
	groups, err := r.Reader.DistinctCount(ctx, role, q)
	var replaceErr error
	r.store.once.Do(func() {
		replaceErr = r.store.Memory.Replace(ctx, core.RoleCurrent, r.store.next)
	})
	if replaceErr != nil {
		return nil, replaceErr
	}
	return groups, err
}

func TestRun_ReportReadsOneGeneration(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.Replace(ctx, core.RoleCurrent, []core.Row{
		row("faculty_descr", "Eng", "gender", "F", "masked_id", "A1"),
		row("faculty_descr", "Eng", "gender", "M", "masked_id", "A2"),
	}))

	s := &replacingStore{Memory: mem, next: []core.Row{
		row("faculty_descr", "Law", "gender", "F", "masked_id", "L1"),
		row("faculty_descr", "Law", "gender", "F", "masked_id", "L2"),
		row("faculty_descr", "Law", "gender", "F", "masked_id", "L3"),
	}}
	e := analytics.NewEngine(s)

	out, err := e.Run(ctx, core.ReportGender, "")
	require.NoError(t, err)
	r := out.(*analytics.GenderReport)

	require.Len(t, r.ByFaculty, 1)
	assert.Equal(t, "Eng", r.ByFaculty[0].FacultyDescr.String)
	assert.Equal(t, map[string]int{"F": 1, "M": 1}, r.ByFaculty[0].GenderCounts)
	assert.Equal(t, 2, r.ByFaculty[0].TotalCount)
	require.Len(t, r.Participation, 2)

	// the replace did land; the next report sees it whole
	out, err = e.Run(ctx, core.ReportGender, "")
	require.NoError(t, err)
	r = out.(*analytics.GenderReport)
	require.Len(t, r.ByFaculty, 1)
	assert.Equal(t, "Law", r.ByFaculty[0].FacultyDescr.String)
	assert.Equal(t, 3, r.ByFaculty[0].TotalCount)
}

func row(kv ...string) core.Row {
	var r core.Row
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(core.Field(kv[i]), kv[i+1])
	}
	return r
}
