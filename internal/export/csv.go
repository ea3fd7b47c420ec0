package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
)

// NullMarker is the field written for SQL NULL, so that NULL and an empty
// string stay distinct. A stored value made of backslashes followed by N is
// written with one extra leading backslash.
const NullMarker = `\N`

var markerLike = regexp.MustCompile(`^\\+N$`)

// tableWriter accumulates one table's rows as CSV. Rows may arrive over
// several result sets; the header is written once, from the first.
type tableWriter struct {
	buf     bytes.Buffer
	w       *csv.Writer
	columns []string
	rows    int
}

func newTableWriter() *tableWriter {
	tw := &tableWriter{}
	tw.w = csv.NewWriter(&tw.buf)
	return tw
}

func (tw *tableWriter) writeRows(rows *sqlx.Rows) error {
	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}

	if tw.columns == nil {
		tw.columns = columns
		if err := tw.w.Write(columns); err != nil {
			return err
		}
	} else if len(columns) != len(tw.columns) {
		return fmt.Errorf("column count changed between batches: %d != %d", len(columns), len(tw.columns))
	}

	record := make([]string, len(columns))
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := tw.w.Write(record); err != nil {
			return err
		}
		tw.rows++
	}

	return rows.Err()
}

func (tw *tableWriter) table(name string) (Table, error) {
	tw.w.Flush()
	if err := tw.w.Error(); err != nil {
		return Table{}, fmt.Errorf("failed to encode csv: %w", err)
	}
	return Table{Name: name, CSV: tw.buf.String(), Rows: tw.rows}, nil
}

// formatValue renders a driver value as a CSV field. NULL becomes NullMarker.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return NullMarker
	case []byte:
		return escapeField(string(x))
	case string:
		return escapeField(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func escapeField(s string) string {
	if markerLike.MatchString(s) {
		return `\` + s
	}
	return s
}

// DecodeField reverses formatValue's text encoding. It reports false when
// the field stands for NULL.
func DecodeField(field string) (string, bool) {
	if field == NullMarker {
		return "", false
	}
	if markerLike.MatchString(field) {
		return field[1:], true
	}
	return field, true
}

// ParseCSV decodes an exported table into its header and records
func ParseCSV(data string) ([]string, [][]string, error) {
	if data == "" {
		return nil, nil, nil
	}

	records, err := csv.NewReader(bytes.NewBufferString(data)).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	return records[0], records[1:], nil
}
