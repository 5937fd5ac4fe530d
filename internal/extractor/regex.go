package extractor

import (
	"regexp"
	"sync"
)

var compiled sync.Map // pattern -> *regexp.Regexp

func findRegex(body []byte, pattern string) (string, bool, error) {
	var re *regexp.Regexp
	if cached, ok := compiled.Load(pattern); ok {
		re = cached.(*regexp.Regexp)
	} else {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return "", false, err
		}
		compiled.Store(pattern, re)
	}
	match := re.FindSubmatch(body)
	if match == nil {
		return "", false, nil
	}
	if len(match) > 1 {
		return string(match[1]), true, nil
	}
	return string(match[0]), true, nil
}
