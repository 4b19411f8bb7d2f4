package export

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Dataset defines tabular content rendered inside a document.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// DatasetFromJSON flattens an opaque calibration results payload into a table.
// Arrays of objects become one row per element; a single object becomes a
// two-column parameter/value table.
func DatasetFromJSON(raw []byte) (Dataset, error) {
	if len(raw) == 0 {
		return Dataset{}, nil
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(raw, &rows); err == nil {
		return datasetFromRows(rows), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Dataset{}, fmt.Errorf("results payload is neither an object nor a list of objects: %w", err)
	}
	keys := sortedKeys(obj)
	data := Dataset{Headers: []string{"Parameter", "Value"}}
	for _, k := range keys {
		data.Rows = append(data.Rows, map[string]string{"Parameter": k, "Value": stringify(obj[k])})
	}
	return data, nil
}

func datasetFromRows(rows []map[string]interface{}) Dataset {
	seen := make(map[string]struct{})
	var headers []string
	for _, row := range rows {
		for _, k := range sortedKeys(row) {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			headers = append(headers, k)
		}
	}
	data := Dataset{Headers: headers}
	for _, row := range rows {
		out := make(map[string]string, len(headers))
		for _, h := range headers {
			if v, ok := row[h]; ok {
				out[h] = stringify(v)
			}
		}
		data.Rows = append(data.Rows, out)
	}
	return data
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
