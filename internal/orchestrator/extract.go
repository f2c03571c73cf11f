package orchestrator

import (
	"encoding/json"

	"devorchestra/internal/ai"
)

// ExtractCode pulls a code string out of an agent payload. Payloads arrive in
// three shapes: the key at the top level, the key nested under "result", or a
// structured value that needs serializing. When no shape matches, the whole
// payload is serialized so the data stays visible instead of being dropped.
func ExtractCode(result map[string]any, key string) string {
	if result == nil {
		return ""
	}

	value, ok := result[key]
	if !ok {
		if inner, innerOK := result["result"].(map[string]any); innerOK {
			value, ok = inner[key]
		}
	}
	if !ok || value == nil {
		return serialize(result)
	}

	if text, isString := value.(string); isString {
		return ai.StripFences(text)
	}
	return serialize(value)
}

func serialize(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(raw)
}

// requirementText reads one requirement field from the parsed requirements,
// falling back to the raw user story when the field is absent.
func requirementText(requirements map[string]any, key, userStory string) string {
	if text, ok := requirements[key].(string); ok && text != "" {
		return text
	}
	return userStory
}
