package convert

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"docify/internal/domain"
)

// record is a row keyed by column name that marshals in column order.
type record struct {
	keys   []string
	values map[string]any
}

func newRecord() *record {
	return &record{values: make(map[string]any)}
}

func (r *record) set(key string, v any) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// table is a header row plus data rows of cells.
type table struct {
	header []string
	rows   [][]string
}

// records turns rows into objects keyed by the header. Empty cells are
// omitted and numeric cells become numbers.
func (t table) records() []*record {
	out := make([]*record, 0, len(t.rows))
	for _, row := range t.rows {
		rec := newRecord()
		for i, cell := range row {
			if i >= len(t.header) || cell == "" {
				continue
			}
			rec.set(t.header[i], cellValue(cell))
		}
		out = append(out, rec)
	}
	return out
}

func cellValue(cell string) any {
	if n, err := strconv.ParseFloat(cell, 64); err == nil && !strings.ContainsAny(cell, " _") {
		return json.Number(strconv.FormatFloat(n, 'f', -1, 64))
	}
	switch cell {
	case "TRUE", "true":
		return true
	case "FALSE", "false":
		return false
	}
	return cell
}

func tableFromRows(rows [][]string) table {
	if len(rows) == 0 {
		return table{}
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "__EMPTY"
			if i > 0 {
				h = fmt.Sprintf("__EMPTY_%d", i)
			}
		}
		header[i] = h
	}
	var body [][]string
	for _, row := range rows[1:] {
		if !blankRow(row) {
			body = append(body, row)
		}
	}
	return table{header: header, rows: body}
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// readTable loads the first sheet of a workbook, or a CSV file.
func readTable(path string) (table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return table{}, err
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return table{}, fmt.Errorf("parse csv: %w", err)
		}
		return tableFromRows(rows), nil
	default:
		wb, err := excelize.OpenFile(path)
		if err != nil {
			return table{}, fmt.Errorf("open workbook: %w", err)
		}
		defer wb.Close()
		sheets := wb.GetSheetList()
		if len(sheets) == 0 {
			return table{}, errors.New("workbook has no sheets")
		}
		rows, err := wb.GetRows(sheets[0])
		if err != nil {
			return table{}, fmt.Errorf("read sheet %s: %w", sheets[0], err)
		}
		return tableFromRows(rows), nil
	}
}

// decodeRecords reads a JSON array of objects, or a single object, keeping
// the key order of the source.
func decodeRecords(data []byte) ([]*record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	switch tok {
	case json.Delim('{'):
		rec, err := decodeObject(dec)
		if err != nil {
			return nil, err
		}
		return []*record{rec}, nil
	case json.Delim('['):
		var out []*record
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parse json: %w", err)
			}
			if tok != json.Delim('{') {
				return nil, fmt.Errorf("expected an array of objects, found %v", tok)
			}
			rec, err := decodeObject(dec)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	default:
		return nil, errors.New("expected a JSON array of objects")
	}
}

// decodeObject reads members after the opening brace through the closing one.
func decodeObject(dec *json.Decoder) (*record, error) {
	rec := newRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		rec.set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return rec, nil
}

// recordsTable flattens records into rows under the union of their keys in
// first-seen order.
func recordsTable(recs []*record) table {
	var header []string
	seen := make(map[string]bool)
	for _, rec := range recs {
		for _, k := range rec.keys {
			if !seen[k] {
				seen[k] = true
				header = append(header, k)
			}
		}
	}
	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, len(header))
		for j, k := range header {
			row[j] = cellText(rec.values[k])
		}
		rows[i] = row
	}
	return table{header: header, rows: rows}
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func writeJSON(out string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return os.WriteFile(out, b, 0o644)
}

func writeCSV(out string, t table) (err error) {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	w := csv.NewWriter(f)
	if len(t.header) > 0 {
		if err := w.Write(t.header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(t.rows); err != nil {
		return err
	}
	return w.Error()
}

func writeWorkbook(out string, t table) error {
	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)

	write := func(rowIdx int, cells []string) error {
		values := make([]any, len(cells))
		for i, c := range cells {
			if n, ok := cellValue(c).(json.Number); ok {
				f, _ := n.Float64()
				values[i] = f
				continue
			}
			values[i] = c
		}
		cell, err := excelize.CoordinatesToCellName(1, rowIdx)
		if err != nil {
			return err
		}
		return wb.SetSheetRow(sheet, cell, &values)
	}

	row := 1
	if len(t.header) > 0 {
		if err := write(row, t.header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		row++
	}
	for _, r := range t.rows {
		if err := write(row, r); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		row++
	}
	if err := wb.SaveAs(out); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func tableToJSON(_ context.Context, in, out string, _ domain.Options) error {
	t, err := readTable(in)
	if err != nil {
		return err
	}
	return writeJSON(out, t.records())
}

func tableOrJSONToCSV(_ context.Context, in, out string, _ domain.Options) error {
	t, err := tableFromAny(in)
	if err != nil {
		return err
	}
	return writeCSV(out, t)
}

func tableOrJSONToWorkbook(_ context.Context, in, out string, _ domain.Options) error {
	t, err := tableFromAny(in)
	if err != nil {
		return err
	}
	return writeWorkbook(out, t)
}

func tableFromAny(in string) (table, error) {
	if strings.EqualFold(filepath.Ext(in), ".json") {
		data, err := os.ReadFile(in)
		if err != nil {
			return table{}, err
		}
		recs, err := decodeRecords(data)
		if err != nil {
			return table{}, err
		}
		return recordsTable(recs), nil
	}
	return readTable(in)
}

// yamlToJSON keeps mapping order by walking the node tree.
func yamlToJSON(_ context.Context, in, out string, _ domain.Options) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	v, err := yamlValue(&doc)
	if err != nil {
		return err
	}
	return writeJSON(out, v)
}

func yamlValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case 0:
		return nil, nil
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return yamlValue(n.Content[0])
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.MappingNode:
		rec := newRecord()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			rec.set(n.Content[i].Value, v)
		}
		return rec, nil
	case yaml.SequenceNode:
		items := make([]any, len(n.Content))
		for i, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode yaml scalar at line %d: %w", n.Line, err)
		}
		return v, nil
	}
}

// jsonToYAML parses JSON as YAML, which keeps key order, then re-emits it
// in block style.
func jsonToYAML(_ context.Context, in, out string, _ domain.Options) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return errors.New("input is not valid JSON")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	blockStyle(&doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
