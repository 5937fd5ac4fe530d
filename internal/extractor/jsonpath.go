package extractor

import "github.com/tidwall/gjson"

// findJSONPath accepts "$", "$.a.b" and plain gjson paths.
func findJSONPath(body []byte, path string) (string, bool) {
	if len(path) > 0 && path[0] == '$' {
		switch {
		case len(path) == 1:
			path = "@this"
		case path[1] == '.':
			path = path[2:]
		}
	}
	result := gjson.GetBytes(body, path)
	if !result.Exists() {
		return "", false
	}
	return result.String(), true
}
