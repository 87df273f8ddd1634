package sheetsync

import (
	"database/sql/driver"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrMissingColumn is returned when a sheet lacks a required column.
	ErrMissingColumn = errors.New("required column missing")

	// ErrEmptySheet is returned when a sheet has no header row.
	ErrEmptySheet = errors.New("sheet has no header row")
)

// Row is one step of one case as it appears in the external sheet. Values
// are kept as raw text; parsing happens when rows are grouped into cases.
type Row struct {
	Line        int    `json:"line"`
	CaseID      string `json:"case_id"`
	UserStory   string `json:"user_story,omitempty"`
	Title       string `json:"title,omitempty"`
	Type        string `json:"type,omitempty"`
	Category    string `json:"category,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Tags        string `json:"tags,omitempty"`
	StepIndex   string `json:"step_index,omitempty"`
	Description string `json:"description"`
	Action      string `json:"action,omitempty"`
	Backend     string `json:"backend,omitempty"`
	DependsOn   string `json:"depends_on,omitempty"`
	Expected    string `json:"expected,omitempty"`
	ElementID   string `json:"element_id,omitempty"`
}

// Rows is a list of rows stored as a JSON column.
type Rows []Row

// Value implements driver.Valuer.
func (r Rows) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (r *Rows) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("failed to scan Rows: unsupported type")
	}
	if len(b) == 0 {
		*r = nil
		return nil
	}
	return json.Unmarshal(b, r)
}

// columnAliases maps normalized header text to a Row field.
var columnAliases = map[string]string{
	"case_id":              "case_id",
	"test_case_id":         "case_id",
	"case_key":             "case_id",
	"id":                   "case_id",
	"user_story":           "user_story",
	"story":                "user_story",
	"title":                "title",
	"test_case_title":      "title",
	"type":                 "type",
	"category":             "category",
	"priority":             "priority",
	"tags":                 "tags",
	"step_index":           "step_index",
	"step_no":              "step_index",
	"step_number":          "step_index",
	"description":          "description",
	"step":                 "description",
	"step_description":     "description",
	"action":               "action",
	"backend":              "backend",
	"depends_on":           "depends_on",
	"expected":             "expected",
	"expected_fingerprint": "expected",
	"element_id":           "element_id",
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
	return h
}

// ReadCSV reads rows from CSV with a header row.
func ReadCSV(r io.Reader) (Rows, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return fromRecords(records)
}

// ReadXLSX reads rows from a workbook sheet. An empty sheet name reads the
// first sheet.
func ReadXLSX(r io.Reader, sheet string) (Rows, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, ErrEmptySheet
		}
		sheet = sheets[0]
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	return fromRecords(records)
}

func fromRecords(records [][]string) (Rows, error) {
	if len(records) == 0 {
		return nil, ErrEmptySheet
	}

	cols := make(map[string]int)
	for i, h := range records[0] {
		if field, ok := columnAliases[normalizeHeader(h)]; ok {
			if _, seen := cols[field]; !seen {
				cols[field] = i
			}
		}
	}
	for _, required := range []string{"case_id", "description"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	var rows Rows
	for n, rec := range records[1:] {
		get := func(field string) string {
			i, ok := cols[field]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		row := Row{
			Line:        n + 2,
			CaseID:      get("case_id"),
			UserStory:   get("user_story"),
			Title:       get("title"),
			Type:        get("type"),
			Category:    get("category"),
			Priority:    get("priority"),
			Tags:        get("tags"),
			StepIndex:   get("step_index"),
			Description: get("description"),
			Action:      get("action"),
			Backend:     get("backend"),
			DependsOn:   get("depends_on"),
			Expected:    get("expected"),
			ElementID:   get("element_id"),
		}
		if row.CaseID == "" && row.Description == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}
