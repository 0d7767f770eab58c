// Package adapters contains the vendor protocol adapters: the REST-polled
// offense manager, the submit-and-poll search-job SIEM, and the
// cursor-paginated log store. Adapters perform network I/O only and never
// write to the store.
package adapters

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// settingString extracts a string setting with a fallback
func settingString(settings map[string]interface{}, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// settingInt extracts an integer setting with a fallback. JSON decoding
// produces float64 for numbers.
func settingInt(settings map[string]interface{}, key string, fallback int) int {
	switch v := settings[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return fallback
}

// settingStrings extracts a string-slice setting with a fallback
func settingStrings(settings map[string]interface{}, key string, fallback []string) []string {
	raw, ok := settings[key].([]interface{})
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// requireBaseURL validates and trims the base_url setting
func requireBaseURL(settings map[string]interface{}) (string, error) {
	base := settingString(settings, "base_url", "")
	if base == "" {
		return "", fmt.Errorf("base_url is required")
	}
	return strings.TrimSuffix(base, "/"), nil
}

// drainBody reads a bounded response body for error messages
func drainBody(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return string(data)
}
