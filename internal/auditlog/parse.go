package auditlog

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// Cells follow RFC 4180: a value containing a comma, a double quote, CR or
// LF is wrapped in double quotes and embedded quotes are doubled. Records
// end with LF.

// row is one parsed data row.
type row struct {
	values   []string
	degraded bool
}

// parsed is the content of a store file.
type parsed struct {
	header []string
	rows   []row
}

const utf8BOM = "\ufeff"

// parseStore splits content into its header and rows. Each row is parsed on
// its own so one corrupt row cannot take down its neighbours.
func parseStore(content string) parsed {
	var p parsed
	content = strings.TrimPrefix(content, utf8BOM)

	records := splitRecords(content)
	if len(records) == 0 {
		return p
	}
	p.header = parseHeader(records[0])
	for _, rec := range records[1:] {
		p.rows = append(p.rows, parseRows(rec)...)
	}
	return p
}

// headerOnly returns the parsed first line of content.
func headerOnly(content string) []string {
	content = strings.TrimPrefix(content, utf8BOM)
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = content[:i]
	}
	content = strings.TrimSuffix(content, "\r")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return parseHeader(content)
}

func parseHeader(line string) []string {
	values, ok := strictFields(line)
	if !ok {
		values = lenientFields(line)
	}
	header := make([]string, 0, len(values))
	for _, v := range values {
		header = append(header, strings.TrimSpace(v))
	}
	return header
}

// splitRecords breaks content into logical records. A newline inside an
// open quoted cell does not end a record. Blank records are dropped.
func splitRecords(content string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '"':
			inQuotes = !inQuotes
		case '\n':
			if inQuotes {
				continue
			}
			out = appendRecord(out, content[start:i])
			start = i + 1
		}
	}
	if start < len(content) {
		out = appendRecord(out, content[start:])
	}
	return out
}

func appendRecord(out []string, rec string) []string {
	rec = strings.TrimSuffix(rec, "\r")
	if strings.TrimSpace(rec) == "" {
		return out
	}
	return append(out, rec)
}

// parseRows parses one logical record. A multi-line record that does not
// parse strictly (typically a stray quote) is split back into its physical
// lines; only the lines that still fail are degraded.
func parseRows(rec string) []row {
	if values, ok := strictFields(rec); ok {
		return []row{{values: values}}
	}
	if !strings.Contains(rec, "\n") {
		return []row{{values: lenientFields(rec), degraded: true}}
	}
	var rows []row
	for _, line := range strings.Split(rec, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		values, ok := strictFields(line)
		if !ok {
			values = lenientFields(line)
		}
		rows = append(rows, row{values: values, degraded: !ok})
	}
	return rows
}

// strictFields parses rec as exactly one RFC 4180 record.
func strictFields(rec string) ([]string, bool) {
	r := csv.NewReader(strings.NewReader(rec))
	r.FieldsPerRecord = -1
	values, err := r.Read()
	if err != nil {
		return nil, false
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	return values, true
}

// lenientFields never fails. A quote opens quoting only at the start of a
// cell; elsewhere it is literal. Inside quotes a doubled quote is a literal
// quote, and an unterminated quote runs to the end of the line.
func lenientFields(line string) []string {
	var values []string
	var cur strings.Builder
	inQuotes, fieldStart := false, true
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case inQuotes && ch == '"' && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case inQuotes && ch == '"':
			inQuotes = false
		case inQuotes:
			cur.WriteByte(ch)
		case ch == '"' && fieldStart:
			inQuotes = true
		case ch == ',':
			values = append(values, cur.String())
			cur.Reset()
			fieldStart = true
			continue
		default:
			cur.WriteByte(ch)
		}
		fieldStart = false
	}
	return append(values, cur.String())
}

// toRecord maps values onto header. Missing cells are empty; cells beyond
// the header are dropped. A count mismatch marks the row degraded.
func toRecord(header []string, r row) (Record, bool) {
	rec := make(Record, len(header))
	for i, name := range header {
		if i < len(r.values) {
			rec[name] = r.values[i]
		} else {
			rec[name] = ""
		}
	}
	return rec, r.degraded || len(r.values) != len(header)
}

// lineBreaks folds CRLF and lone CR to LF. encoding/csv reads a quoted
// CRLF back as LF, so values are stored that way from the start.
var lineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// encodeRows writes records in header order.
func encodeRows(header []string, records ...Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	values := make([]string, len(header))
	for _, rec := range records {
		for i, name := range header {
			values[i] = lineBreaks.Replace(rec[name])
		}
		if err := w.Write(values); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeHeader writes the header line.
func encodeHeader(header []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
