package generator

import (
	"strconv"
	"strings"

	"github.com/avatarlabs/avatar-studio/internal/jobs"
)

// Request options arrive as decoded JSON, so numbers are float64 and booleans
// may be strings. These helpers coerce values the way users actually send
// them, falling back to the configured default.

func optInt(opts jobs.Options, key string, def int) int {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return def
}

func optFloat(opts jobs.Options, key string, def float64) float64 {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return def
}

func optBool(opts jobs.Options, key string, def bool) bool {
	v, ok := opts[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func optString(opts jobs.Options, key, def string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return def
}
