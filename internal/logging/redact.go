package logging

import "strings"

var secretKeys = map[string]bool{
	"api_key":        true,
	"apikey":         true,
	"authorization":  true,
	"invite_code":    true,
	"gemini_api_key": true,
	"token":          true,
	"secret":         true,
}

func RedactValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "bearer ") {
		return "Bearer " + mask(trimmed[7:])
	}
	return mask(trimmed)
}

// RedactFields masks every secret-looking key of a form or settings map.
func RedactFields(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for key, val := range fields {
		if IsSecretKey(key) {
			out[key] = RedactValue(val)
			continue
		}
		out[key] = val
	}
	return out
}

func IsSecretKey(key string) bool {
	return secretKeys[strings.ToLower(strings.TrimSpace(key))]
}

func mask(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}
