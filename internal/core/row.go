package core

import (
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// Row is one enrolment record. Every field is optional; Valid=false means
// the source did not provide a value.
type Row struct {
	ResidencyGroup  pgtype.Text
	AcademicYear    pgtype.Int4
	Term            pgtype.Int4
	TermDescr       pgtype.Text
	AcademicCareer  pgtype.Text
	AcadProg        pgtype.Text
	AcademicProgram pgtype.Text
	CourseID        pgtype.Text
	OfferNumber     pgtype.Int4
	Faculty         pgtype.Text
	FacultyDescr    pgtype.Text
	School          pgtype.Text
	SchoolName      pgtype.Text
	CourseName      pgtype.Text
	CourseCode      pgtype.Text
	CatalogNumber   pgtype.Text
	CrseAttr        pgtype.Text
	MaskedID        pgtype.Text

	Gender           pgtype.Text
	FirstGeneration  pgtype.Text
	ATSIDesc         pgtype.Text
	ATSIGroup        pgtype.Text
	RegionalRemote   pgtype.Text
	SES              pgtype.Text
	AdmissionPathway pgtype.Text
}

func (r *Row) textField(f Field) *pgtype.Text {
	switch f {
	case FieldResidencyGroup:
		return &r.ResidencyGroup
	case FieldTermDescr:
		return &r.TermDescr
	case FieldAcademicCareer:
		return &r.AcademicCareer
	case FieldAcadProg:
		return &r.AcadProg
	case FieldAcademicProgram:
		return &r.AcademicProgram
	case FieldCourseID:
		return &r.CourseID
	case FieldFaculty:
		return &r.Faculty
	case FieldFacultyDescr:
		return &r.FacultyDescr
	case FieldSchool:
		return &r.School
	case FieldSchoolName:
		return &r.SchoolName
	case FieldCourseName:
		return &r.CourseName
	case FieldCourseCode:
		return &r.CourseCode
	case FieldCatalogNumber:
		return &r.CatalogNumber
	case FieldCrseAttr:
		return &r.CrseAttr
	case FieldMaskedID:
		return &r.MaskedID
	case FieldGender:
		return &r.Gender
	case FieldFirstGeneration:
		return &r.FirstGeneration
	case FieldATSIDesc:
		return &r.ATSIDesc
	case FieldATSIGroup:
		return &r.ATSIGroup
	case FieldRegionalRemote:
		return &r.RegionalRemote
	case FieldSES:
		return &r.SES
	case FieldAdmissionPathway:
		return &r.AdmissionPathway
	}
	return nil
}

func (r *Row) intField(f Field) *pgtype.Int4 {
	switch f {
	case FieldAcademicYear:
		return &r.AcademicYear
	case FieldTerm:
		return &r.Term
	case FieldOfferNumber:
		return &r.OfferNumber
	}
	return nil
}

// Set parses raw into field f. Blank or unparseable values leave the field null.
func (r *Row) Set(f Field, raw string) {
	if p := r.textField(f); p != nil {
		*p = ToPgText(CleanCell(raw))
		return
	}
	if p := r.intField(f); p != nil {
		*p = ParsePgInt4(raw)
	}
}

// Text returns the string form of f and whether it is set.
// Integer fields are rendered in base 10.
func (r *Row) Text(f Field) pgtype.Text {
	if p := r.textField(f); p != nil {
		return *p
	}
	if p := r.intField(f); p != nil {
		if !p.Valid {
			return pgtype.Text{}
		}
		return pgtype.Text{String: strconv.Itoa(int(p.Int32)), Valid: true}
	}
	return pgtype.Text{}
}

// Value returns the pgtype value of f for bulk copy.
func (r *Row) Value(f Field) any {
	if p := r.textField(f); p != nil {
		return *p
	}
	if p := r.intField(f); p != nil {
		return *p
	}
	return nil
}

// Values returns the row's values in the column order of FieldsFor(extended).
func (r *Row) Values(extended bool) []any {
	specs := FieldsFor(extended)
	out := make([]any, len(specs))
	for i, s := range specs {
		out[i] = r.Value(s.Field)
	}
	return out
}

// WithoutExtended returns a copy of r with all extended fields cleared.
func (r Row) WithoutExtended() Row {
	r.Gender = pgtype.Text{}
	r.FirstGeneration = pgtype.Text{}
	r.ATSIDesc = pgtype.Text{}
	r.ATSIGroup = pgtype.Text{}
	r.RegionalRemote = pgtype.Text{}
	r.SES = pgtype.Text{}
	r.AdmissionPathway = pgtype.Text{}
	return r
}
