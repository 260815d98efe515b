package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/ChamsBouzaiene/forge/internal/engine"
)

var (
	statusPattern     = regexp.MustCompile(`(?i)(?:status(?: code)?:?|http)\s*(\d{3})\b`)
	bareStatusPattern = regexp.MustCompile(`\b(4\d\d|5\d\d)\b`)
	retryAfterPattern = regexp.MustCompile(`(?i)retry[- ]after:?\s*(\S+)`)
)

// extractErrorMetadata pulls the HTTP status and Retry-After value out of an
// SDK error message.
func extractErrorMetadata(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	msg := err.Error()
	status := 0
	if m := statusPattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	} else if m := bareStatusPattern.FindStringSubmatch(msg); m != nil {
		status, _ = strconv.Atoi(m[1])
	}
	if http.StatusText(status) == "" {
		status = 0
	}
	retryAfter := ""
	if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
		retryAfter = strings.TrimRight(m[1], ",;.")
	}
	return status, retryAfter
}

func wrapSDKError(err error) error {
	status, retryAfter := extractErrorMetadata(err)
	return engine.WrapLLMError(err, status, retryAfter)
}

// parseToolArgs decodes a call's JSON arguments. Malformed arguments are
// reported on the call so dispatch turns them into a schema violation.
func parseToolArgs(id, name string, raw []byte) engine.ToolCall {
	call := engine.ToolCall{ID: id, Name: name, Args: map[string]any{}}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return call
	}
	if err := json.Unmarshal(raw, &call.Args); err != nil {
		call.Args = map[string]any{}
		call.Error = fmt.Sprintf("invalid JSON arguments: %v", err)
	}
	return call
}

func decodeSchema(ts engine.ToolSchema) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(ts.JSONSchema), &obj); err != nil {
		return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", ts.Name, err)
	}
	return obj, nil
}
