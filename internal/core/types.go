package core

// Field is the canonical name of a Row attribute. The value doubles as the
// database column name.
type Field string

const (
	FieldResidencyGroup  Field = "residency_group_descr"
	FieldAcademicYear    Field = "academic_year"
	FieldTerm            Field = "term"
	FieldTermDescr       Field = "term_descr"
	FieldAcademicCareer  Field = "academic_career_descr"
	FieldAcadProg        Field = "acad_prog"
	FieldAcademicProgram Field = "academic_program_descr"
	FieldCourseID        Field = "course_id"
	FieldOfferNumber     Field = "offer_number"
	FieldFaculty         Field = "faculty"
	FieldFacultyDescr    Field = "faculty_descr"
	FieldSchool          Field = "school"
	FieldSchoolName      Field = "school_name"
	FieldCourseName      Field = "course_name"
	FieldCourseCode      Field = "course_code"
	FieldCatalogNumber   Field = "catalog_number"
	FieldCrseAttr        Field = "crse_attr"
	FieldMaskedID        Field = "masked_id"

	// Extended demographic fields.
	FieldGender           Field = "gender"
	FieldFirstGeneration  Field = "first_generation_ind"
	FieldATSIDesc         Field = "atsi_desc"
	FieldATSIGroup        Field = "atsi_group"
	FieldRegionalRemote   Field = "regional_remote"
	FieldSES              Field = "ses"
	FieldAdmissionPathway Field = "admission_pathway"
)

// FieldKind is the storage type of a field.
type FieldKind int

const (
	KindText FieldKind = iota
	KindInt
)

// FieldSpec describes one canonical Row field.
type FieldSpec struct {
	Field    Field
	Kind     FieldKind
	Extended bool // only kept by snapshots that support extended fields
	Required bool // upload is rejected when no column maps to it
}

// fieldSpecs is ordered; the order is the column order used for bulk copy.
var fieldSpecs = []FieldSpec{
	{Field: FieldResidencyGroup, Kind: KindText},
	{Field: FieldAcademicYear, Kind: KindInt, Required: true},
	{Field: FieldTerm, Kind: KindInt},
	{Field: FieldTermDescr, Kind: KindText},
	{Field: FieldAcademicCareer, Kind: KindText},
	{Field: FieldAcadProg, Kind: KindText},
	{Field: FieldAcademicProgram, Kind: KindText},
	{Field: FieldCourseID, Kind: KindText},
	{Field: FieldOfferNumber, Kind: KindInt},
	{Field: FieldFaculty, Kind: KindText},
	{Field: FieldFacultyDescr, Kind: KindText},
	{Field: FieldSchool, Kind: KindText},
	{Field: FieldSchoolName, Kind: KindText},
	{Field: FieldCourseName, Kind: KindText},
	{Field: FieldCourseCode, Kind: KindText},
	{Field: FieldCatalogNumber, Kind: KindText},
	{Field: FieldCrseAttr, Kind: KindText},
	{Field: FieldMaskedID, Kind: KindText},
	{Field: FieldGender, Kind: KindText, Extended: true},
	{Field: FieldFirstGeneration, Kind: KindText, Extended: true},
	{Field: FieldATSIDesc, Kind: KindText, Extended: true},
	{Field: FieldATSIGroup, Kind: KindText, Extended: true},
	{Field: FieldRegionalRemote, Kind: KindText, Extended: true},
	{Field: FieldSES, Kind: KindText, Extended: true},
	{Field: FieldAdmissionPathway, Kind: KindText, Extended: true},
}

var specByField = func() map[Field]FieldSpec {
	m := make(map[Field]FieldSpec, len(fieldSpecs))
	for _, s := range fieldSpecs {
		m[s.Field] = s
	}
	return m
}()

// Fields returns every canonical field spec in column order.
func Fields() []FieldSpec {
	out := make([]FieldSpec, len(fieldSpecs))
	copy(out, fieldSpecs)
	return out
}

// FieldsFor returns the field specs a snapshot stores, in column order.
func FieldsFor(extended bool) []FieldSpec {
	out := make([]FieldSpec, 0, len(fieldSpecs))
	for _, s := range fieldSpecs {
		if s.Extended && !extended {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Spec returns the spec for f.
func (f Field) Spec() (FieldSpec, bool) {
	s, ok := specByField[f]
	return s, ok
}

// Valid reports whether f is a known canonical field.
func (f Field) Valid() bool {
	_, ok := specByField[f]
	return ok
}

// Extended reports whether f is an extended demographic field.
func (f Field) Extended() bool {
	return specByField[f].Extended
}

func (f Field) String() string { return string(f) }

// Table is a decoded tabular upload: a header row plus data rows.
// Rows may be ragged; missing trailing cells read as empty.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

// Cell returns the value at row i, column j, or "" when out of range.
func (t Table) Cell(i, j int) string {
	if i < 0 || i >= len(t.Rows) || j < 0 || j >= len(t.Rows[i]) {
		return ""
	}
	return t.Rows[i][j]
}
