package sheetsync

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const checkoutCSV = `Case ID,User Story,Title,Type,Tags,Step No,Step Description,Depends On,Element-ID
TC-1,US-7,Login,ui,smoke;auth,1,Open the login page,,
TC-1,,,,,2,Click Sign in,1,login-button
TC-2,US-7,Health,api,,1,GET /health returns 200,,

,,,,,,,,
`

func TestReadCSV(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(checkoutCSV))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Row{
		Line:        3,
		CaseID:      "TC-1",
		StepIndex:   "2",
		Description: "Click Sign in",
		DependsOn:   "1",
		ElementID:   "login-button",
	}, rows[1])
	assert.Equal(t, "smoke;auth", rows[0].Tags)
	assert.Equal(t, "api", rows[2].Type)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"empty", "", ErrEmptySheet},
		{"no description column", "case_id,title\nTC-1,x\n", ErrMissingColumn},
		{"no case column", "description\nstep\n", ErrMissingColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "Cases"
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)

	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"case_id", "user_story", "description", "backend"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"TC-9", "US-1", "Query the orders table", "database"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := ReadXLSX(buf, sheet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "TC-9", rows[0].CaseID)
	assert.Equal(t, "database", rows[0].Backend)

	_, err = ReadXLSX(strings.NewReader("not a workbook"), "")
	assert.Error(t, err)
}
