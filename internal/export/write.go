package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/JonMunkholm/labelflow/internal/catalog"
)

// CommentsColumn is the field comments are written to.
const CommentsColumn = "Comments"

// WriteRows serializes rows in the container format of f.
func WriteRows(w io.Writer, f catalog.ExportFormat, rows []Row) error {
	switch f.Writer {
	case catalog.WriterCSV:
		return writeCSV(w, f, rows)
	case catalog.WriterJSON:
		objs := make([]map[string]any, len(rows))
		for i, row := range rows {
			objs[i] = row.object(f)
		}
		return json.NewEncoder(w).Encode(objs)
	case catalog.WriterJSONL:
		enc := json.NewEncoder(w)
		for _, row := range rows {
			if err := enc.Encode(row.object(f)); err != nil {
				return err
			}
		}
		return nil
	case catalog.WriterFastText:
		return writeFastText(w, rows)
	default:
		return fmt.Errorf("unknown writer %q", f.Writer)
	}
}

// object returns the row as one JSON object. Meta fields never shadow the
// id, data or label fields.
func (r Row) object(f catalog.ExportFormat) map[string]any {
	obj := make(map[string]any, len(r.Meta)+len(r.Values)+3)
	for k, v := range r.Meta {
		obj[k] = v
	}
	obj["id"] = r.ID
	obj[f.DataColumn] = r.Data
	for i, c := range f.Columns {
		obj[c.Name] = r.Values[i]
	}
	if len(r.Comments) > 0 {
		obj[CommentsColumn] = r.Comments
	}
	return obj
}

func writeCSV(w io.Writer, f catalog.ExportFormat, rows []Row) error {
	header := []string{"id", f.DataColumn}
	reserved := map[string]bool{"id": true, f.DataColumn: true, CommentsColumn: true}
	for _, c := range f.Columns {
		header = append(header, c.Name)
		reserved[c.Name] = true
	}

	var metaKeys []string
	seen := make(map[string]bool)
	hasComments := false
	for _, row := range rows {
		for k := range row.Meta {
			if !reserved[k] && !seen[k] {
				seen[k] = true
				metaKeys = append(metaKeys, k)
			}
		}
		hasComments = hasComments || len(row.Comments) > 0
	}
	slices.Sort(metaKeys)
	header = append(header, metaKeys...)
	if hasComments {
		header = append(header, CommentsColumn)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, strconv.FormatInt(row.ID, 10), row.Data)
		for _, v := range row.Values {
			rec = append(rec, formatCell(v))
		}
		for _, k := range metaKeys {
			rec = append(rec, formatCell(row.Meta[k]))
		}
		if hasComments {
			rec = append(rec, formatCell(row.Comments))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// formatCell writes strings as is and everything else as JSON.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		if len(val) == 0 {
			return ""
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func writeFastText(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		var labels []string
		if len(row.Values) > 0 {
			switch v := row.Values[0].(type) {
			case []string:
				labels = v
			case string:
				if v != "" {
					labels = []string{v}
				}
			}
		}
		if _, err := bw.WriteString(FastTextLine(labels, row.Data, row.Comments) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
