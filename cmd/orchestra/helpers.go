package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseSet turns key=value pairs into a check context. Values that parse as
// numbers or booleans keep that type; everything else stays a string.
func parseSet(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", p)
		}
		raw = strings.TrimSpace(raw)
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			out[key] = f
		} else if b, err := strconv.ParseBool(raw); err == nil {
			out[key] = b
		} else {
			out[key] = raw
		}
	}
	return out, nil
}

// parseLevels turns name=level pairs into a capability or skill vector.
func parseLevels(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid level %q: want name=level", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid level %q: %w", p, err)
		}
		out[name] = v
	}
	return out, nil
}

// readArg returns s, or the contents of the file named after a leading @.
func readArg(s string) ([]byte, error) {
	if path, ok := strings.CutPrefix(s, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return data, nil
	}
	return []byte(s), nil
}
