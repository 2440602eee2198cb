package tools

var weekdayEnum = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// objectSchema builds a JSON Schema object with the given properties.
func objectSchema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
