// internal/util/util.go
package util

import (
	"encoding/json"
	"os"
)

// LoadJSON decodes the JSON file at path into v. Missing-file errors are
// returned as-is so callers can decide whether that is fatal.
func LoadJSON(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(v)
}

// WriteJSON writes v to path as indented JSON, replacing any existing file.
func WriteJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
