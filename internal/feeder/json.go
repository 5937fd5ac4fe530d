package feeder

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// loadJSON reads a JSON array of flat objects. Values are kept in their
// JSON text form, strings unquoted.
func loadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("decode JSON: %s is not valid JSON", path)
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, fmt.Errorf("decode JSON: %s must hold an array of objects", path)
	}

	var records []Record
	var ferr error
	root.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			ferr = fmt.Errorf("record %d is not an object", len(records))
			return false
		}
		rec := make(Record)
		item.ForEach(func(key, value gjson.Result) bool {
			rec[key.String()] = value.String()
			return true
		})
		if len(rec) == 0 {
			ferr = fmt.Errorf("record %d is empty", len(records))
			return false
		}
		records = append(records, rec)
		return true
	})
	if ferr != nil {
		return nil, ferr
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("JSON file contains empty array")
	}
	return records, nil
}
