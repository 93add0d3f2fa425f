package domain

// Intent is the structured form of a free-text request, produced by an
// agent's Understand. Fields beyond the action verb are domain-specific.
type Intent struct {
	Action string                 `json:"action"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// NewIntent builds an intent with the given action and fields.
func NewIntent(action string, fields map[string]interface{}) Intent {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return Intent{Action: action, Fields: fields}
}

// String returns a string field, or fallback when absent.
func (i Intent) String(key, fallback string) string {
	if v, ok := i.Fields[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Int returns an int field, tolerating float64 from JSON decoding.
func (i Intent) Int(key string, fallback int) int {
	switch v := i.Fields[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

// Bool returns a bool field, or fallback when absent.
func (i Intent) Bool(key string, fallback bool) bool {
	if v, ok := i.Fields[key].(bool); ok {
		return v
	}
	return fallback
}
