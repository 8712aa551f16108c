package core

import (
	"fmt"
	"slices"
	"sort"
)

// FileYear is the ordering key extracted from one upload.
type FileYear struct {
	Year int
	// Ambiguous is set when no unique mode exists.
	Ambiguous bool
	// Known is false when the file has no academic year values at all.
	Known bool
}

// DominantYear returns the statistical mode of the academic year over rows.
// When several years tie for the highest frequency the smallest of them is
// used; when every year is equally frequent the first row's year is used.
// Both tie cases mark the result ambiguous.
func DominantYear(rows []Row) FileYear {
	counts := make(map[int32]int)
	var (
		first    int32
		hasFirst bool
	)
	for i := range rows {
		y := rows[i].AcademicYear
		if !y.Valid {
			continue
		}
		if !hasFirst {
			first, hasFirst = y.Int32, true
		}
		counts[y.Int32]++
	}
	if !hasFirst {
		return FileYear{}
	}

	bestCount := 0
	for _, c := range counts {
		bestCount = max(bestCount, c)
	}
	var modes []int32
	for y, c := range counts {
		if c == bestCount {
			modes = append(modes, y)
		}
	}

	switch {
	case len(modes) == 1:
		return FileYear{Year: int(modes[0]), Known: true}
	case len(modes) == len(counts):
		return FileYear{Year: int(first), Ambiguous: true, Known: true}
	}
	return FileYear{Year: int(slices.Min(modes)), Ambiguous: true, Known: true}
}

// Placement records where one uploaded file landed.
type Placement struct {
	Role          Role   `json:"role"`
	Table         string `json:"table"`
	File          string `json:"file"`
	Year          int    `json:"academic_year,omitempty"`
	YearAmbiguous bool   `json:"year_ambiguous,omitempty"`
	Rows          int    `json:"rows"`
	// Extended lists the extended fields detected in the file.
	Extended []Field `json:"extended_fields,omitempty"`
}

// Assignment is the classifier output: one placement per written role.
type Assignment struct {
	Mode       AnalysisMode
	Placements []Placement
	rows       map[Role][]Row
}

// Rows returns the rows assigned to role.
func (a *Assignment) Rows(role Role) []Row {
	return a.rows[role]
}

// Placement returns the placement for role.
func (a *Assignment) Placement(role Role) (Placement, bool) {
	for _, p := range a.Placements {
		if p.Role == role {
			return p, true
		}
	}
	return Placement{}, false
}

type yearedFile struct {
	file NormalizedFile
	year FileYear
}

// Classify assigns each file to a snapshot role according to mode.
//
// Year-driven modes sort by dominant academic year (stable, so equal years
// keep upload order). Census modes treat the before/after pair positionally
// because both sides of a census date share the same academic year.
func Classify(mode AnalysisMode, files []NormalizedFile) (*Assignment, error) {
	plan, err := mode.Plan()
	if err != nil {
		return nil, err
	}
	if err := mode.ValidateFileCount(len(files)); err != nil {
		return nil, err
	}

	yf := make([]yearedFile, len(files))
	for i, f := range files {
		yf[i] = yearedFile{file: f, year: DominantYear(f.Rows)}
	}

	a := &Assignment{Mode: mode, rows: make(map[Role][]Row, len(plan.Roles))}
	var assign map[Role]yearedFile

	switch mode {
	case ModeDefault:
		assign = map[Role]yearedFile{RoleCurrent: yf[0]}

	case ModeYoYComparison:
		sorted, err := sortByYear(yf)
		if err != nil {
			return nil, err
		}
		assign = map[Role]yearedFile{
			RolePrevious: sorted[0],
			RoleCurrent:  sorted[1],
		}

	case ModeCensusDay:
		assign = map[Role]yearedFile{
			RoleBeforeCensus: yf[0],
			RoleCurrent:      yf[1],
		}

	case ModeCensusYoY:
		sorted, err := sortByYear(yf[:2])
		if err != nil {
			return nil, err
		}
		assign = map[Role]yearedFile{
			RolePrevious:     sorted[0],
			RoleBeforeCensus: sorted[1],
			RoleCurrent:      yf[2],
		}

	default:
		return nil, &UnknownModeError{Mode: mode.String()}
	}

	for _, role := range plan.Roles {
		f, ok := assign[role]
		if !ok {
			return nil, fmt.Errorf("classify %s: %w", mode, &UnknownRoleError{Role: role})
		}
		spec, err := LookupSnapshot(role)
		if err != nil {
			return nil, fmt.Errorf("classify %s: %w", mode, err)
		}
		a.rows[role] = f.file.Rows
		a.Placements = append(a.Placements, Placement{
			Role:          role,
			Table:         spec.Table,
			File:          f.file.Name,
			Year:          f.year.Year,
			YearAmbiguous: f.year.Ambiguous,
			Rows:          len(f.file.Rows),
			Extended:      f.file.Extended,
		})
	}

	return a, nil
}

// sortByYear returns a copy of files ordered by ascending dominant year.
// Files without any year value cannot be ordered and fail with *SchemaError.
func sortByYear(files []yearedFile) ([]yearedFile, error) {
	for _, f := range files {
		if !f.year.Known {
			return nil, &SchemaError{File: f.file.Name, Field: FieldAcademicYear, Reason: "no values in column"}
		}
	}
	sorted := make([]yearedFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].year.Year < sorted[j].year.Year
	})
	return sorted, nil
}
