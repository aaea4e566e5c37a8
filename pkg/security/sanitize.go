package security

import "strings"

// Redacted replaces sensitive values in sanitized log payloads
const Redacted = "[REDACTED]"

// sensitiveFields holds normalised (lowercase, no separators) field names
var sensitiveFields = map[string]struct{}{
	"firstname":     {},
	"lastname":      {},
	"fullname":      {},
	"parentemail":   {},
	"email":         {},
	"password":      {},
	"token":         {},
	"accesstoken":   {},
	"secret":        {},
	"apikey":        {},
	"encryptionkey": {},
	"dateofbirth":   {},
	"identifier":    {},
	"authorization": {},
}

// IsSensitiveField reports whether name is redacted by SanitizeForLogging
func IsSensitiveField(name string) bool {
	_, ok := sensitiveFields[normaliseField(name)]
	return ok
}

// SanitizeForLogging returns a copy of obj with sensitive fields redacted.
// Nested maps and slices of maps are sanitized as well.
func SanitizeForLogging(obj map[string]interface{}) map[string]interface{} {
	if obj == nil {
		return nil
	}

	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if IsSensitiveField(k) {
			out[k] = Redacted
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return SanitizeForLogging(val)
	case []interface{}:
		items := make([]interface{}, len(val))
		for i, item := range val {
			items[i] = sanitizeValue(item)
		}
		return items
	case []map[string]interface{}:
		items := make([]map[string]interface{}, len(val))
		for i, item := range val {
			items[i] = SanitizeForLogging(item)
		}
		return items
	default:
		return v
	}
}

func normaliseField(name string) string {
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "", "-", "").Replace(name)
}
