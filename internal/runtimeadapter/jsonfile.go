package runtimeadapter

import (
	"encoding/json"
	"os"
)

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// writeJSONFile writes v as indented JSON to path. The parent directory
// must already exist; it is not created.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
