package domain

import "time"

// Record is a normalized domain item returned by searches (an email, a
// departure, a forecast day). Connectors return raw maps; agents normalize
// keys before handing records up.
type Record map[string]interface{}

// Str returns a string value, or empty string when absent.
func (r Record) Str(key string) string {
	v, _ := r[key].(string)
	return v
}

// Time returns a time value, accepting time.Time or RFC 3339 strings.
// The zero time is returned when the key is absent or unparseable.
func (r Record) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
