package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/enrolment/internal/core"
)

// cdevPrefix selects career development courses by course code.
const cdevPrefix = "CDEV"

// GenderCount is a headcount for one gender.
type GenderCount struct {
	Gender pgtype.Text `json:"gender"`
	Count  int         `json:"count"`
}

// FacultyGender is the gender split of one faculty.
type FacultyGender struct {
	FacultyDescr pgtype.Text    `json:"faculty_descr"`
	GenderCounts map[string]int `json:"gender_counts"`
	TotalCount   int            `json:"total_count"`
}

// GenderReport is the gender participation report on CURRENT.
type GenderReport struct {
	Participation []GenderCount   `json:"participation by gender"`
	ByFaculty     []FacultyGender `json:"gender proportion in WIL"`
}

// GenderParticipation counts subjects with a known gender, overall and per
// faculty.
func (e *Engine) GenderParticipation(ctx context.Context) (*GenderReport, error) {
	known := core.NotNull(core.FieldGender)

	var (
		counts []Count
		facets []Facet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		counts, err = e.Count(gctx, core.RoleCurrent, core.FieldGender, known)
		return err
	})
	g.Go(func() (err error) {
		facets, err = e.Facet(gctx, core.RoleCurrent, core.FieldFacultyDescr, core.FieldGender, known)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &GenderReport{
		Participation: make([]GenderCount, len(counts)),
		ByFaculty:     make([]FacultyGender, len(facets)),
	}
	for i, c := range counts {
		r.Participation[i] = GenderCount{Gender: c.Value, Count: c.Count}
	}
	for i, f := range facets {
		r.ByFaculty[i] = FacultyGender{
			FacultyDescr: f.Key,
			GenderCounts: f.InnerMap(),
			TotalCount:   f.Total,
		}
	}
	return r, nil
}

// CohortRow is one faculty of an equity cohort breakdown. It encodes as a
// flat object: faculty_descr, one key per cohort value, and total.
type CohortRow struct {
	FacultyDescr pgtype.Text
	Counts       map[string]int
	Total        int
}

func (c CohortRow) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Counts)+2)
	for k, v := range c.Counts {
		m[k] = v
	}
	m["faculty_descr"] = c.FacultyDescr
	m["total"] = c.Total
	return json.Marshal(m)
}

// RegionalCount is a headcount for one regional/remote value.
type RegionalCount struct {
	RegionalRemote pgtype.Text `json:"regional_remote"`
	Count          int         `json:"count"`
}

// EquityReport is the equity cohort report on CURRENT.
type EquityReport struct {
	FirstGeneration []CohortRow     `json:"first generation"`
	SES             []CohortRow     `json:"ses"`
	ATSIGroup       []CohortRow     `json:"atsi group"`
	RegionalRemote  []RegionalCount `json:"regional remote"`
}

// EquityCohort breaks faculties down by first-generation status, SES band
// and ATSI group, and counts regional/remote subjects. Unset values are
// excluded from every section.
func (e *Engine) EquityCohort(ctx context.Context) (*EquityReport, error) {
	r := &EquityReport{}

	g, gctx := errgroup.WithContext(ctx)
	cohort := func(dim core.Field, dst *[]CohortRow) {
		g.Go(func() error {
			facets, err := e.Facet(gctx, core.RoleCurrent, core.FieldFacultyDescr, dim, core.NotNull(dim))
			if err != nil {
				return err
			}
			rows := make([]CohortRow, len(facets))
			for i, f := range facets {
				rows[i] = CohortRow{FacultyDescr: f.Key, Counts: f.InnerMap(), Total: f.Total}
			}
			*dst = rows
			return nil
		})
	}
	cohort(core.FieldFirstGeneration, &r.FirstGeneration)
	cohort(core.FieldSES, &r.SES)
	cohort(core.FieldATSIGroup, &r.ATSIGroup)

	g.Go(func() error {
		counts, err := e.Count(gctx, core.RoleCurrent, core.FieldRegionalRemote, core.NotNull(core.FieldRegionalRemote))
		if err != nil {
			return err
		}
		r.RegionalRemote = make([]RegionalCount, len(counts))
		for i, c := range counts {
			r.RegionalRemote[i] = RegionalCount{RegionalRemote: c.Value, Count: c.Count}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

// ResidencyCount is a headcount for one residency group.
type ResidencyCount struct {
	ResidencyGroup pgtype.Text `json:"residency_group_descr"`
	Count          int         `json:"count"`
}

// CDEVCourse is one CDEV course split by residency.
type CDEVCourse struct {
	CourseCode         pgtype.Text      `json:"course_code"`
	CourseName         pgtype.Text      `json:"course_name"`
	Total              int              `json:"total"`
	ResidencyBreakdown []ResidencyCount `json:"residency_breakdown"`
}

// CDEVGender is one CDEV course split by gender.
type CDEVGender struct {
	CourseCode      pgtype.Text   `json:"course_code"`
	Total           int           `json:"total"`
	GenderBreakdown []GenderCount `json:"gender_breakdown"`
}

// CDEVReport covers courses whose code starts with CDEV.
type CDEVReport struct {
	ByResidency []CDEVCourse `json:"CDEV by Residency and Course"`
	ByGender    []CDEVGender `json:"CDEV by Gender"`
}

// CDEV reports CDEV course headcounts by residency and by known gender.
func (e *Engine) CDEV(ctx context.Context) (*CDEVReport, error) {
	cdev := core.StartsWith(core.FieldCourseCode, cdevPrefix)

	var (
		residency, gender []Facet
		names             map[string]pgtype.Text
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		residency, err = e.Facet(gctx, core.RoleCurrent, core.FieldCourseCode, core.FieldResidencyGroup, cdev)
		return err
	})
	g.Go(func() (err error) {
		gender, err = e.Facet(gctx, core.RoleCurrent, core.FieldCourseCode, core.FieldGender,
			cdev, core.NotNull(core.FieldGender))
		return err
	})
	g.Go(func() (err error) {
		names, err = e.courseNames(gctx, cdev)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &CDEVReport{
		ByResidency: make([]CDEVCourse, len(residency)),
		ByGender:    make([]CDEVGender, len(gender)),
	}
	for i, f := range residency {
		c := CDEVCourse{
			CourseCode:         f.Key,
			CourseName:         names[groupKey(f.Key)],
			Total:              f.Total,
			ResidencyBreakdown: make([]ResidencyCount, len(f.Inner)),
		}
		for j, in := range f.Inner {
			c.ResidencyBreakdown[j] = ResidencyCount{ResidencyGroup: in.Value, Count: in.Count}
		}
		r.ByResidency[i] = c
	}
	for i, f := range gender {
		c := CDEVGender{
			CourseCode:      f.Key,
			Total:           f.Total,
			GenderBreakdown: make([]GenderCount, len(f.Inner)),
		}
		for j, in := range f.Inner {
			c.GenderBreakdown[j] = GenderCount{Gender: in.Value, Count: in.Count}
		}
		r.ByGender[i] = c
	}
	return r, nil
}

// courseNames maps each course code to the first course name seen with it.
func (e *Engine) courseNames(ctx context.Context, filters ...core.Filter) (map[string]pgtype.Text, error) {
	groups, err := e.reader.DistinctCount(ctx, core.RoleCurrent, core.Query{
		Dimensions: []core.Field{core.FieldCourseCode, core.FieldCourseName},
		Filters:    filters,
	})
	if err != nil {
		return nil, fmt.Errorf("course names: %w", err)
	}
	names := make(map[string]pgtype.Text, len(groups))
	for _, g := range groups {
		k := groupKey(g.Values[0])
		if _, ok := names[k]; !ok {
			names[k] = g.Values[1]
		}
	}
	return names, nil
}

// sortStableDesc orders items by key descending, keeping encounter order
// for ties.
func sortStableDesc[T any](items []T, key func(T) int) {
	sort.SliceStable(items, func(i, j int) bool {
		return key(items[i]) > key(items[j])
	})
}
