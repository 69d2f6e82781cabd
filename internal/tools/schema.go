package tools

type props map[string]any

func object(p props, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": map[string]any(p),
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func enum(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "description": description, "enum": values}
}
