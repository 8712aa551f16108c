package tabular

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/enrolment/internal/core"
)

func workbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		for j, v := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecode_CSV(t *testing.T) {
	input := "\ufeffACADEMIC_YEAR,FACULTY_DESCR,MASKED_ID\n2024,Eng,A1\n2024, Sci ,\"A2\"\n2023,Arts\n"

	tbl, err := Decode("extract.CSV", strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "extract.CSV", tbl.Name)
	assert.Equal(t, []string{"ACADEMIC_YEAR", "FACULTY_DESCR", "MASKED_ID"}, tbl.Columns)
	require.Len(t, tbl.Rows, 3)
	assert.Equal(t, "A2", tbl.Rows[1][2])
	// ragged rows are kept; missing cells read as empty
	assert.Len(t, tbl.Rows[2], 2)
	assert.Equal(t, "", tbl.Cell(2, 2))
}

func TestDecode_CSVEmpty(t *testing.T) {
	_, err := Decode("empty.csv", strings.NewReader(""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyFile)
	assert.Equal(t, "FILE005", core.MapError(err).Code)
}

func TestDecode_CSVMalformed(t *testing.T) {
	body := io.MultiReader(strings.NewReader("a,b\n1,2"), iotest.ErrReader(errors.New("read interrupted")))

	_, err := Decode("bad.csv", body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid csv")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, "FILE002", core.MapError(err).Code)
}

func TestDecode_XLSX(t *testing.T) {
	data := workbook(t, [][]any{
		{"Academic Year", "Faculty Descr", "Masked ID", "Gender"},
		{2024, "Eng", "A1", "F"},
		{2024, "Eng", "A2", "M"},
	})

	tbl, err := Decode("extract.xlsx", bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, []string{"Academic Year", "Faculty Descr", "Masked ID", "Gender"}, tbl.Columns)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, []string{"2024", "Eng", "A2", "M"}, tbl.Rows[1])
}

func TestDecode_XLSXFeedsNormalizer(t *testing.T) {
	data := workbook(t, [][]any{
		{"ACADEMIC_YEAR", "FACULTY_DESCR", "MASKED_ID"},
		{2023, "Sci", "S1"},
	})

	tbl, err := Decode("prev.xlsx", bytes.NewReader(data))
	require.NoError(t, err)

	nf, err := core.NewNormalizer(nil).Normalize(tbl)
	require.NoError(t, err)
	require.Len(t, nf.Rows, 1)
	assert.Equal(t, int32(2023), nf.Rows[0].AcademicYear.Int32)
	assert.Equal(t, "S1", nf.Rows[0].MaskedID.String)
}

func TestDecode_XLSXEmptySheet(t *testing.T) {
	data := workbook(t, nil)

	_, err := Decode("blank.xlsx", bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestDecode_XLSXCorrupt(t *testing.T) {
	_, err := Decode("broken.xlsx", strings.NewReader("not a zip archive"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.xlsx")
	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, "FILE007", core.MapError(err).Code)
}

func TestDecode_Unsupported(t *testing.T) {
	for _, name := range []string{"legacy.xls", "notes.txt", "noext"} {
		_, err := Decode(name, strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrUnsupportedFormat, name)
		assert.Equal(t, "FILE006", core.MapError(err).Code, name)
	}
}

func TestAllowed(t *testing.T) {
	assert.True(t, Allowed("a.csv"))
	assert.True(t, Allowed("A.XLSX"))
	assert.False(t, Allowed("a.xls"))
	assert.False(t, Allowed("a"))
	assert.Equal(t, []string{".csv", ".xlsx"}, Extensions())
}

func TestDecodeAll_KeepsOrder(t *testing.T) {
	src := func(name, body string) Source {
		return Source{Name: name, Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(body)), nil
		}}
	}

	tables, err := DecodeAll(context.Background(), []Source{
		src("b.csv", "academic_year\n2024\n"),
		src("a.csv", "academic_year\n2023\n"),
	})
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "b.csv", tables[0].Name)
	assert.Equal(t, "a.csv", tables[1].Name)
}

func TestDecodeAll_FailsOnAnyFile(t *testing.T) {
	openErr := errors.New("disk gone")

	_, err := DecodeAll(context.Background(), []Source{
		{Name: "ok.csv", Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("academic_year\n2024\n")), nil
		}},
		{Name: "bad.csv", Open: func() (io.ReadCloser, error) { return nil, openErr }},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, openErr)
	assert.Contains(t, err.Error(), "bad.csv")
}
