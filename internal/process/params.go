package process

// Param reads a typed value out of a free-form config map, falling back when
// the key is absent or the wrong type. YAML decodes numbers as int or
// float64 depending on their spelling, so Float accepts both.

// Float reads a float parameter.
func Float(config map[string]any, key string, fallback float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

// Int reads an integer parameter.
func Int(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

// String reads a string parameter.
func String(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return fallback
}

// Bool reads a boolean parameter.
func Bool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key].(bool); ok {
		return v
	}
	return fallback
}

// Map reads a nested map parameter, nil when absent.
func Map(config map[string]any, key string) map[string]any {
	if v, ok := config[key].(map[string]any); ok {
		return v
	}
	return nil
}

// Strings reads a string list parameter, accepting both []string and the
// []any a YAML decoder produces.
func Strings(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	default:
		return nil
	}
}
