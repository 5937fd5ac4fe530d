package har

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ParseFile reads a HAR document from disk.
func ParseFile(path string) (*HAR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open HAR file: %w", err)
	}
	defer f.Close()
	h, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Parse decodes a HAR document.
func Parse(r io.Reader) (*HAR, error) {
	var h HAR
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty HAR data")
		}
		return nil, fmt.Errorf("parse HAR: %w", err)
	}
	if h.Log == nil {
		return nil, errors.New("invalid HAR: missing log")
	}
	return &h, nil
}
