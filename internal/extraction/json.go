package extraction

import (
	"encoding/json"
	"errors"
	"strings"
)

// cleanModelJSON strips a markdown fence from a model reply. Anything else
// around the JSON value is left in place and fails to parse.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		// Drop the first line (``` or ```json).
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return strings.Trim(s, "`")
		}
		s = strings.TrimSpace(s)
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
	}

	return strings.TrimSpace(s)
}

// parseReply decodes the model content into a generic JSON value.
func parseReply(content string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(cleanModelJSON(content)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &MalformedResponseError{Content: content, Err: err}
	}
	if dec.More() {
		return nil, &MalformedResponseError{Content: content, Err: errTrailingData}
	}
	return v, nil
}

var errTrailingData = errors.New("unexpected data after JSON value")
