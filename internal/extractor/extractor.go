// Package extractor pulls values out of scenario responses so that later
// steps can reuse them.
package extractor

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Extractor is one extraction rule of a scenario step.
type Extractor struct {
	// Variable receives the extracted value.
	Variable string `yaml:"variable"`

	// JSONPath is a gjson path, "$." prefixed paths are accepted.
	JSONPath string `yaml:"jsonpath"`

	// Regex is matched against the body. The first capture group is used
	// when present, the whole match otherwise.
	Regex string `yaml:"regex"`

	// Header names a response header to copy.
	Header string `yaml:"header"`

	// Required turns a missing value into an error.
	Required bool `yaml:"required"`

	// OnError also extracts from responses that failed their status check.
	OnError bool `yaml:"on_error"`
}

// MissingError reports a required value that could not be extracted.
type MissingError struct {
	Variable string
	Source   string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("extract %s: %s not found", e.Variable, e.Source)
}

func (e Extractor) source() string {
	switch {
	case e.JSONPath != "":
		return "jsonpath " + e.JSONPath
	case e.Regex != "":
		return "regex " + e.Regex
	case e.Header != "":
		return "header " + e.Header
	}
	return "no source"
}

// ExtractAll applies extractors in order. Missing optional values are logged
// and stored as empty strings; the first missing required value stops the
// extraction with a *MissingError.
func ExtractAll(header http.Header, body []byte, extractors []Extractor, log *zap.Logger) (map[string]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	result := make(map[string]string, len(extractors))
	for _, ex := range extractors {
		var (
			value string
			found bool
		)
		switch {
		case ex.JSONPath != "":
			value, found = findJSONPath(body, ex.JSONPath)
		case ex.Regex != "":
			var err error
			value, found, err = findRegex(body, ex.Regex)
			if err != nil {
				return result, fmt.Errorf("extract %s: %w", ex.Variable, err)
			}
		case ex.Header != "":
			value = header.Get(ex.Header)
			found = value != ""
		}
		if !found {
			if ex.Required {
				return result, &MissingError{Variable: ex.Variable, Source: ex.source()}
			}
			log.Warn("extraction found nothing", zap.String("variable", ex.Variable), zap.String("source", ex.source()))
		}
		result[ex.Variable] = value
	}
	return result, nil
}
