package core

import (
	"fmt"
	"strings"
)

// AnalysisMode is the upload scenario. It controls how many files are
// required and which snapshot each file lands in. The zero value is invalid.
type AnalysisMode int

const (
	ModeDefault AnalysisMode = iota + 1
	ModeYoYComparison
	ModeCensusDay
	ModeCensusYoY
)

// Report names a report endpoint exposed once its snapshots are loaded.
type Report string

const (
	ReportGender           Report = "par_gender_agg"
	ReportEquity           Report = "equity_cohort_agg"
	ReportCDEV             Report = "cdev_agg"
	ReportYearOverYear     Report = "yoy_comparison"
	ReportCensusComparison Report = "census_comparison"
	ReportCensusDrop       Report = "census_gender_drop"
)

// ModePlan is one row of the dispatch table.
type ModePlan struct {
	Mode          AnalysisMode `json:"mode"`
	RequiredFiles int          `json:"required_files"`
	// Roles is the order snapshots are reported in tables_updated.
	Roles     []Role   `json:"roles"`
	ReadyFlag string   `json:"ready_flag,omitempty"`
	Reports   []Report `json:"reports"`
}

var currentReports = []Report{ReportGender, ReportEquity, ReportCDEV}

// Modes returns every analysis mode in declaration order.
func Modes() []AnalysisMode {
	return []AnalysisMode{ModeDefault, ModeYoYComparison, ModeCensusDay, ModeCensusYoY}
}

// ParseMode resolves a wire name such as "census_yoy".
func ParseMode(s string) (AnalysisMode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, m := range Modes() {
		if m.String() == key {
			return m, nil
		}
	}
	return 0, &UnknownModeError{Mode: s}
}

func (m AnalysisMode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeYoYComparison:
		return "yoy_comparison"
	case ModeCensusDay:
		return "census_day"
	case ModeCensusYoY:
		return "census_yoy"
	}
	return fmt.Sprintf("AnalysisMode(%d)", int(m))
}

// Plan returns the dispatch table entry for m.
func (m AnalysisMode) Plan() (ModePlan, error) {
	switch m {
	case ModeDefault:
		return ModePlan{
			Mode:          m,
			RequiredFiles: 1,
			Roles:         []Role{RoleCurrent},
			Reports:       currentReports,
		}, nil
	case ModeYoYComparison:
		return ModePlan{
			Mode:          m,
			RequiredFiles: 2,
			Roles:         []Role{RolePrevious, RoleCurrent},
			ReadyFlag:     "comparison_ready",
			Reports:       append(append([]Report{}, currentReports...), ReportYearOverYear),
		}, nil
	case ModeCensusDay:
		return ModePlan{
			Mode:          m,
			RequiredFiles: 2,
			Roles:         []Role{RoleBeforeCensus, RoleCurrent},
			ReadyFlag:     "census_analysis_ready",
			Reports:       append(append([]Report{}, currentReports...), ReportCensusComparison, ReportCensusDrop),
		}, nil
	case ModeCensusYoY:
		return ModePlan{
			Mode:          m,
			RequiredFiles: 3,
			Roles:         []Role{RoleBeforeCensus, RolePrevious, RoleCurrent},
			ReadyFlag:     "complex_analysis_ready",
			Reports: append(append([]Report{}, currentReports...),
				ReportYearOverYear, ReportCensusComparison, ReportCensusDrop),
		}, nil
	}
	return ModePlan{}, &UnknownModeError{Mode: m.String()}
}

// ValidateFileCount returns *FileCountError when n does not match the
// mode's required file count.
func (m AnalysisMode) ValidateFileCount(n int) error {
	plan, err := m.Plan()
	if err != nil {
		return err
	}
	if n != plan.RequiredFiles {
		return &FileCountError{Mode: m, Want: plan.RequiredFiles, Got: n}
	}
	return nil
}

// MarshalText encodes the mode by its wire name.
func (m AnalysisMode) MarshalText() ([]byte, error) {
	if _, err := m.Plan(); err != nil {
		return nil, err
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a wire name.
func (m *AnalysisMode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
