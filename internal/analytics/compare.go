package analytics

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/enrolment/internal/core"
)

// pair runs q against two snapshots concurrently.
func (e *Engine) pair(ctx context.Context, a, b core.Role, q core.Query) (ga, gb []core.GroupCount, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ga, err = e.reader.DistinctCount(gctx, a, q)
		return err
	})
	g.Go(func() (err error) {
		gb, err = e.reader.DistinctCount(gctx, b, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ga, gb, nil
}

// GenderDrop is the census drop for one gender of a faculty.
type GenderDrop struct {
	Gender       pgtype.Text `json:"gender"`
	BeforeCensus int         `json:"before_census"`
	AfterCensus  int         `json:"after_census"`
	DropCount    int         `json:"drop_count"`
	DropRate     float64     `json:"drop_rate"`
}

// FacultyDrop is the census drop of one faculty for a term.
type FacultyDrop struct {
	FacultyDescr    pgtype.Text  `json:"faculty_descr"`
	Term            string       `json:"term"`
	GenderBreakdown []GenderDrop `json:"gender_breakdown"`
	TotalBefore     int          `json:"total_before"`
	TotalAfter      int          `json:"total_after"`
	TotalDrop       int          `json:"total_drop"`
	TotalDropRate   float64      `json:"total_drop_rate"`
}

// CensusGenderDrop compares BEFORE_CENSUS with CURRENT per faculty and
// gender, restricted to rows whose term description contains term.
//
// Faculty totals are sums over the faculty's genders and the total drop rate
// is derived from those totals. A side with no rows counts as 0. Rates are
// 0 when the before count is 0. An empty term yields an empty result.
func (e *Engine) CensusGenderDrop(ctx context.Context, term string) ([]FacultyDrop, error) {
	if term == "" {
		return []FacultyDrop{}, nil
	}
	if !ValidTerm(term) {
		return nil, &InvalidTermError{Term: term}
	}

	before, after, err := e.pair(ctx, core.RoleBeforeCensus, core.RoleCurrent, core.Query{
		Dimensions: []core.Field{core.FieldFacultyDescr, core.FieldGender},
		Filters:    []core.Filter{core.Contains(core.FieldTermDescr, term)},
	})
	if err != nil {
		return nil, err
	}

	var (
		out     []FacultyDrop
		faculty = make(map[string]int)
		gender  = make(map[[2]string]int)
	)
	add := func(groups []core.GroupCount, isBefore bool) {
		for _, g := range groups {
			fk := groupKey(g.Values[0])
			fi, ok := faculty[fk]
			if !ok {
				fi = len(out)
				faculty[fk] = fi
				out = append(out, FacultyDrop{FacultyDescr: g.Values[0], Term: term})
			}
			gk := [2]string{fk, groupKey(g.Values[1])}
			gi, ok := gender[gk]
			if !ok {
				gi = len(out[fi].GenderBreakdown)
				gender[gk] = gi
				out[fi].GenderBreakdown = append(out[fi].GenderBreakdown, GenderDrop{Gender: g.Values[1]})
			}
			if isBefore {
				out[fi].GenderBreakdown[gi].BeforeCensus = g.Count
			} else {
				out[fi].GenderBreakdown[gi].AfterCensus = g.Count
			}
		}
	}
	add(before, true)
	add(after, false)

	for i := range out {
		f := &out[i]
		for j := range f.GenderBreakdown {
			gd := &f.GenderBreakdown[j]
			gd.DropCount = gd.BeforeCensus - gd.AfterCensus
			gd.DropRate = percent(gd.DropCount, gd.BeforeCensus)
			f.TotalBefore += gd.BeforeCensus
			f.TotalAfter += gd.AfterCensus
		}
		f.TotalDrop = f.TotalBefore - f.TotalAfter
		f.TotalDropRate = percent(f.TotalDrop, f.TotalBefore)
	}

	sortStableDesc(out, func(f FacultyDrop) int { return f.TotalDrop })
	if out == nil {
		out = []FacultyDrop{}
	}
	return out, nil
}

// FacultyChange is the simple census comparison of one faculty.
type FacultyChange struct {
	FacultyDescr     pgtype.Text `json:"faculty_descr"`
	BeforeCensus     int         `json:"before_census"`
	AfterCensus      int         `json:"after_census"`
	Difference       int         `json:"difference"`
	ChangePercentage float64     `json:"change_percentage"`
}

// CensusComparison counts distinct subjects per faculty in BEFORE_CENSUS and
// CURRENT. Rows are sorted by the absolute difference, largest first.
func (e *Engine) CensusComparison(ctx context.Context) ([]FacultyChange, error) {
	before, after, err := e.pair(ctx, core.RoleBeforeCensus, core.RoleCurrent, core.Query{
		Dimensions: []core.Field{core.FieldFacultyDescr},
	})
	if err != nil {
		return nil, err
	}

	out := []FacultyChange{}
	index := make(map[string]int)
	at := func(v pgtype.Text) *FacultyChange {
		k := groupKey(v)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, FacultyChange{FacultyDescr: v})
		}
		return &out[i]
	}
	for _, g := range before {
		at(g.Values[0]).BeforeCensus = g.Count
	}
	for _, g := range after {
		at(g.Values[0]).AfterCensus = g.Count
	}

	for i := range out {
		c := &out[i]
		c.Difference = c.AfterCensus - c.BeforeCensus
		c.ChangePercentage = percent(c.Difference, c.BeforeCensus)
	}

	sortStableDesc(out, func(c FacultyChange) int {
		if c.Difference < 0 {
			return -c.Difference
		}
		return c.Difference
	})
	return out, nil
}

// YearCounts maps an academic year, as a string, to a headcount.
type YearCounts map[string]int

// ResidencyYears is one residency group of a faculty across years.
type ResidencyYears struct {
	ResidencyGroup pgtype.Text
	Years          YearCounts
}

func (r ResidencyYears) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Years)+1)
	for y, n := range r.Years {
		m[y] = n
	}
	m["residency_group_descr"] = r.ResidencyGroup
	return json.Marshal(m)
}

// FacultyYears is one faculty of the year-over-year report. It encodes as
// faculty_descr, one key per year, and residency_breakdown.
type FacultyYears struct {
	FacultyDescr       pgtype.Text
	Years              YearCounts
	ResidencyBreakdown []ResidencyYears
	// Total is the sum over Years and is the sort key.
	Total int
}

func (f FacultyYears) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Years)+2)
	for y, n := range f.Years {
		m[y] = n
	}
	m["faculty_descr"] = f.FacultyDescr
	breakdown := f.ResidencyBreakdown
	if breakdown == nil {
		breakdown = []ResidencyYears{}
	}
	m["residency_breakdown"] = breakdown
	return json.Marshal(m)
}

// YearOverYear merges PREVIOUS and CURRENT headcounts grouped by faculty,
// residency and academic year. Counts are summed per (faculty, year) and per
// (faculty, residency, year); faculties are sorted by their summed total.
// Every faculty and residency carries every year seen in either snapshot,
// with 0 where it has no rows.
func (e *Engine) YearOverYear(ctx context.Context) ([]FacultyYears, error) {
	prev, curr, err := e.pair(ctx, core.RolePrevious, core.RoleCurrent, core.Query{
		Dimensions: []core.Field{core.FieldFacultyDescr, core.FieldResidencyGroup, core.FieldAcademicYear},
	})
	if err != nil {
		return nil, err
	}

	out := []FacultyYears{}
	faculty := make(map[string]int)
	residency := make(map[[2]string]int)
	years := make(map[string]struct{})

	for _, g := range append(prev, curr...) {
		year := keyString(g.Values[2])
		years[year] = struct{}{}

		fk := groupKey(g.Values[0])
		fi, ok := faculty[fk]
		if !ok {
			fi = len(out)
			faculty[fk] = fi
			out = append(out, FacultyYears{FacultyDescr: g.Values[0], Years: YearCounts{}})
		}
		f := &out[fi]

		rk := [2]string{fk, groupKey(g.Values[1])}
		ri, ok := residency[rk]
		if !ok {
			ri = len(f.ResidencyBreakdown)
			residency[rk] = ri
			f.ResidencyBreakdown = append(f.ResidencyBreakdown, ResidencyYears{
				ResidencyGroup: g.Values[1],
				Years:          YearCounts{},
			})
		}

		f.ResidencyBreakdown[ri].Years[year] += g.Count
		f.Years[year] += g.Count
		f.Total += g.Count
	}

	for i := range out {
		f := &out[i]
		fillYears(f.Years, years)
		for j := range f.ResidencyBreakdown {
			fillYears(f.ResidencyBreakdown[j].Years, years)
		}
	}

	sortStableDesc(out, func(f FacultyYears) int { return f.Total })
	return out, nil
}

// fillYears adds a 0 entry to counts for every year it lacks.
func fillYears(counts YearCounts, years map[string]struct{}) {
	for y := range years {
		if _, ok := counts[y]; !ok {
			counts[y] = 0
		}
	}
}
