package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func setupFileProcessorTest(t *testing.T) FileProcessor {
	t.Helper()
	return NewFileProcessor(FileProcessorOptions{MinFloorArea: 10, MaxFloorArea: 10000})
}

func TestFileProcessor_ParseCSV(t *testing.T) {
	p := setupFileProcessorTest(t)

	tests := []struct {
		name    string
		content string
		want    [][]string
	}{
		{
			name:    "comma",
			content: "codice,mq\nS1,100\nS2,200\n",
			want:    [][]string{{"codice", "mq"}, {"S1", "100"}, {"S2", "200"}},
		},
		{
			name:    "semicolon with comma decimals",
			content: "codice;mq;indirizzo\nS1;120,5;Via Roma 1, Milano\n",
			want:    [][]string{{"codice", "mq", "indirizzo"}, {"S1", "120,5", "Via Roma 1, Milano"}},
		},
		{
			name:    "quoted delimiter",
			content: "code,name,square\nS1,\"Rossi, Bianchi & C\",80\n",
			want:    [][]string{{"code", "name", "square"}, {"S1", "Rossi, Bianchi & C", "80"}},
		},
		{
			name:    "blank lines and CRLF",
			content: "\r\ncodice,mq\r\n\r\nS1,100\r\n   \r\nS2,50\r\n",
			want:    [][]string{{"codice", "mq"}, {"S1", "100"}, {"S2", "50"}},
		},
		{
			name:    "byte order mark",
			content: "\ufeffcodice;mq\nS1;10\n",
			want:    [][]string{{"codice", "mq"}, {"S1", "10"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := p.ParseCSV(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rows)
		})
	}
}

func TestFileProcessor_ParseCSVMalformed(t *testing.T) {
	p := setupFileProcessorTest(t)

	for _, content := range []string{"", "codice;mq", "codice;mq\n\n   \n"} {
		_, err := p.ParseCSV(content)
		assert.True(t, errors.Is(err, ErrMalformedInput), "content %q", content)
	}
}

func TestFileProcessor_ParseXLSX(t *testing.T) {
	p := setupFileProcessorTest(t)

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"Codice Negozio", "Metri Quadri", "Ragione Sociale"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"S1", 150, "Alfa Srl"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"S2", "80,5", "Beta Spa"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	rows, err := p.ParseXLSX(buf.String())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"S1", "150", "Alfa Srl"}, rows[1])

	result := p.ProcessFile("roster.xlsx", buf.String(), "broker@example.com")
	assert.True(t, result.Success)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, 80.5, result.Rows[1].FloorArea)
	assert.Equal(t, "Beta Spa", result.Rows[1].BusinessName)
}

func TestFileProcessor_ParseXLSXMalformed(t *testing.T) {
	p := setupFileProcessorTest(t)

	_, err := p.ParseXLSX("not a workbook")
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestResolveColumns(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   map[string]int
	}{
		{
			name:   "italian headers",
			header: []string{"Codice", "Ragione Sociale", "Indirizzo", "MQ"},
			want:   map[string]int{FieldStoreCode: 0, FieldBusinessName: 1, FieldAddress: 2, FieldFloorArea: 3},
		},
		{
			name:   "english headers",
			header: []string{"Business Name", "Address", "Square Meters", "Store_Code"},
			want:   map[string]int{FieldStoreCode: 3, FieldFloorArea: 2, FieldBusinessName: 0, FieldAddress: 1},
		},
		{
			name:   "keyword priority beats column order",
			header: []string{"id", "codice"},
			want:   map[string]int{FieldStoreCode: 1},
		},
		{
			name:   "claimed header is skipped",
			header: []string{"store code name", "name", "mq"},
			want:   map[string]int{FieldStoreCode: 0, FieldFloorArea: 2, FieldBusinessName: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveColumns(tt.header))
		})
	}
}

func TestFileProcessor_MapRows(t *testing.T) {
	p := setupFileProcessorTest(t)

	raw := [][]string{
		{"codice", "mq", "nome"},
		{"S1", "100", "Alfa"},
		{"", "50", "Missing code"},
		{"S3", "abc", "Bad area"},
		{"S4", "-5", "Negative"},
		{"S5", "12,75", "Comma decimal"},
		{"S6"},
	}

	result := p.MapRows(raw)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "S1", result.Rows[0].StoreCode)
	assert.Equal(t, 2, result.Rows[0].Row)
	assert.Equal(t, 12.75, result.Rows[1].FloorArea)
	assert.Equal(t, 6, result.Rows[1].Row)

	require.Len(t, result.Errors, 4)
	assert.Equal(t, 3, result.Errors[0].Row)
	assert.Equal(t, FieldStoreCode, result.Errors[0].Field)
	assert.Equal(t, 4, result.Errors[1].Row)
	assert.Equal(t, FieldFloorArea, result.Errors[1].Field)
	assert.Equal(t, 5, result.Errors[2].Row)
	assert.Equal(t, "-5", result.Errors[2].Value)
	assert.Equal(t, 7, result.Errors[3].Row)
}

func TestFileProcessor_MapRowsMissingRequiredColumn(t *testing.T) {
	p := setupFileProcessorTest(t)

	raw := [][]string{{"codice", "nome"}, {"S1", "Alfa"}, {"S2", "Beta"}, {"S3", "Gamma"}}

	result := p.MapRows(raw)
	assert.Empty(t, result.Rows)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 0, result.Errors[0].Row)
	assert.Equal(t, FieldFloorArea, result.Errors[0].Field)
	assert.Contains(t, result.Errors[0].Message, "floor_area")
}

func TestFileProcessor_Validate(t *testing.T) {
	p := setupFileProcessorTest(t)

	rows := []ImportedRow{
		{Row: 2, StoreCode: "S1", FloorArea: 100},
		{Row: 3, StoreCode: "S2", FloorArea: 5},
		{Row: 4, StoreCode: "S1", FloorArea: 200},
		{Row: 5, StoreCode: "S3", FloorArea: 20000},
		{Row: 6, StoreCode: "S1", FloorArea: 300},
	}

	result := p.Validate(rows)
	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 4, result.Errors[0].Row)
	assert.Equal(t, 6, result.Errors[1].Row)
	assert.Contains(t, result.Errors[0].Message, "S1")

	require.Len(t, result.Warnings, 2)
	assert.Equal(t, 3, result.Warnings[0].Row)
	assert.Equal(t, 5, result.Warnings[1].Row)
}

func TestFileProcessor_ValidateWarningsOnly(t *testing.T) {
	p := setupFileProcessorTest(t)

	result := p.Validate([]ImportedRow{{Row: 2, StoreCode: "S1", FloorArea: 1}})
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Len(t, result.Warnings, 1)
}

func TestFileProcessor_ProcessFileRoundTrip(t *testing.T) {
	p := setupFileProcessorTest(t)

	var b strings.Builder
	b.WriteString("store_code;ragione sociale;indirizzo;superficie\n")
	b.WriteString("S1;Alfa Srl;Via Roma 1;120\n")
	b.WriteString("S2;Beta Spa;Corso Italia 5;85,5\n")
	b.WriteString("S3;Gamma;Piazza Duomo;300\n")

	result := p.ProcessFile("roster.csv", b.String(), "admin@example.com")
	assert.True(t, result.Success)
	assert.True(t, result.Validation.IsValid)
	assert.Equal(t, 3, result.TotalRows)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "Corso Italia 5", result.Rows[1].Address)
	assert.Equal(t, "roster.csv", result.Filename)
	assert.Equal(t, "admin@example.com", result.Uploader)
	assert.Empty(t, result.ErrorSummary())
}

func TestFileProcessor_ProcessFileMissingFloorArea(t *testing.T) {
	p := setupFileProcessorTest(t)

	content := "codice,nome\nS1,Alfa\nS2,Beta\nS3,Gamma\nS4,Delta\n"

	result := p.ProcessFile("roster.csv", content, "admin")
	assert.False(t, result.Success)
	assert.Empty(t, result.Rows)
	require.Len(t, result.Validation.Errors, 1)
	assert.Equal(t, 0, result.Validation.Errors[0].Row)
}

func TestFileProcessor_ProcessFileDuplicateOnly(t *testing.T) {
	p := setupFileProcessorTest(t)

	content := "codice,mq\nS1,100\nS2,200\nS1,300\n"

	result := p.ProcessFile("roster.csv", content, "admin")
	assert.Empty(t, result.Mapping.Errors)
	assert.False(t, result.Validation.IsValid)
	assert.False(t, result.Success)
	assert.Empty(t, result.Rows)
}

func TestFileProcessor_ProcessFileMappingErrorsFailFile(t *testing.T) {
	p := setupFileProcessorTest(t)

	content := "codice,mq\nS1,100\nS2,zero\n"

	result := p.ProcessFile("roster.csv", content, "admin")
	assert.False(t, result.Success)
	assert.False(t, result.Validation.IsValid)
	assert.Empty(t, result.Rows)
	require.Len(t, result.Validation.Errors, 1)
	assert.Equal(t, 3, result.Validation.Errors[0].Row)
	assert.Equal(t, "Validation failed with 1 errors (first at row 3: floor area \"zero\" is not a positive number)", result.ErrorSummary())
}

func TestFileProcessor_ProcessFileUnparsable(t *testing.T) {
	p := setupFileProcessorTest(t)

	result := p.ProcessFile("roster.csv", "only a header", "admin")
	assert.False(t, result.Success)
	require.Len(t, result.Validation.Errors, 1)
	assert.Equal(t, 0, result.Validation.Errors[0].Row)
	assert.Contains(t, result.Validation.Errors[0].Message, ErrMalformedInput.Error())
}

func TestFileProcessor_ConcreteScenario(t *testing.T) {
	p := setupFileProcessorTest(t)

	result := p.ProcessFile("roster.csv", "codice;mq\nS1;100\nS2;-5\nS1;200\n", "broker")
	assert.False(t, result.Success)
	assert.Empty(t, result.Rows)

	var negativeRow3, duplicateS1 bool
	for _, e := range result.Validation.Errors {
		if e.Row == 3 && e.Field == FieldFloorArea {
			negativeRow3 = true
		}
		if e.Field == FieldStoreCode && e.Value == "S1" {
			duplicateS1 = true
		}
	}
	assert.True(t, negativeRow3)
	assert.True(t, duplicateS1)
}
