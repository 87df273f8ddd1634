package handlers

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/hairizuan-noorazman/testflow/sheetsync"
)

const (
	formatJSON = "json"
	formatCSV  = "csv"
	formatXLSX = "xlsx"

	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// requestFormat picks the body format from the format query parameter, then
// the Content-Type header. JSON is the default.
func requestFormat(r *http.Request) string {
	if f := strings.ToLower(r.URL.Query().Get("format")); f != "" {
		return f
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return formatJSON
	}
	switch mediaType {
	case "text/csv", "application/csv":
		return formatCSV
	case contentTypeXLSX:
		return formatXLSX
	default:
		return formatJSON
	}
}

// readSheet reads a CSV or XLSX body. The raw bytes are returned with the
// rows so the exact upload can be hashed.
func readSheet(w http.ResponseWriter, r *http.Request, format string) (sheetsync.Rows, []byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read body: %w", err)
	}

	var rows sheetsync.Rows
	switch format {
	case formatCSV:
		rows, err = sheetsync.ReadCSV(bytes.NewReader(raw))
	case formatXLSX:
		rows, err = sheetsync.ReadXLSX(bytes.NewReader(raw), r.URL.Query().Get("sheet"))
	default:
		return nil, nil, fmt.Errorf("unsupported sheet format %q", format)
	}
	if err != nil {
		return nil, nil, err
	}
	return rows, raw, nil
}
