package ai

import (
	"regexp"
	"strings"
)

// Envelope is the canonical shape of a completion result: the cleaned text
// plus role-specific secondary fields extracted by heuristic post-processing.
// Fallback marks deterministic degraded-mode content served after quota
// exhaustion or a non-retryable failure.
type Envelope struct {
	Role         Role     `json:"role"`
	Text         string   `json:"text"`
	Dependencies []string `json:"dependencies,omitempty"`
	Endpoints    []string `json:"endpoints,omitempty"`
	Tables       []string `json:"tables,omitempty"`
	Fallback     bool     `json:"fallback"`
}

var (
	fenceOpenPattern = regexp.MustCompile("```[a-zA-Z]*\n?")

	endpointPatterns = []*regexp.Regexp{
		regexp.MustCompile(`@app\.(get|post|put|delete|patch)\(["']([^"']+)["']`),
		regexp.MustCompile(`@router\.(get|post|put|delete|patch)\(["']([^"']+)["']`),
	}

	tablePattern = regexp.MustCompile(`(?i)CREATE TABLE (?:IF NOT EXISTS )?([a-zA-Z_][a-zA-Z0-9_]*)`)

	testFuncPattern = regexp.MustCompile(`def test_\w+`)
)

// StripFences removes markdown code fences from completion output.
func StripFences(text string) string {
	text = fenceOpenPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// ExtractEndpoints pulls "METHOD /path" pairs out of decorator-style route
// declarations. Best-effort; a non-empty default keeps downstream consumers
// schema-valid when nothing matches.
func ExtractEndpoints(code string) []string {
	var endpoints []string
	for _, pattern := range endpointPatterns {
		for _, m := range pattern.FindAllStringSubmatch(code, -1) {
			endpoints = append(endpoints, strings.ToUpper(m[1])+" "+m[2])
		}
	}
	if len(endpoints) == 0 {
		return []string{"GET /", "POST /data"}
	}
	return endpoints
}

// ExtractTableNames pulls table names out of CREATE TABLE statements.
func ExtractTableNames(sql string) []string {
	var tables []string
	for _, m := range tablePattern.FindAllStringSubmatch(sql, -1) {
		tables = append(tables, m[1])
	}
	if len(tables) == 0 {
		return []string{"main_table"}
	}
	return tables
}

// CountTestFunctions counts test-function declarations in generated test code.
func CountTestFunctions(code string) int {
	return len(testFuncPattern.FindAllString(code, -1))
}

// envelope wraps cleaned completion text into the role's canonical shape.
func envelope(role Role, text string, fallback bool) *Envelope {
	env := &Envelope{Role: role, Text: text, Fallback: fallback}
	switch role {
	case RoleFrontend:
		env.Dependencies = []string{"react", "lucide-react", "tailwindcss"}
	case RoleBackend:
		env.Endpoints = ExtractEndpoints(text)
	case RoleDatabase:
		env.Tables = ExtractTableNames(text)
	}
	return env
}

// systemInstruction shapes the prompt for the role, mirroring the response
// constraints each downstream decoder expects.
func systemInstruction(role Role, prompt string) string {
	switch role {
	case RoleFrontend:
		return "You are an expert React developer.\n" + prompt + "\n\n" +
			"Return ONLY a single valid React functional component.\n" +
			"- Use Tailwind CSS for styling\n" +
			"- Use 'lucide-react' for icons\n" +
			"- DO NOT use markdown backticks\n" +
			"- Must be 'export default function App()'"
	case RoleBackend:
		return "You are an expert FastAPI developer.\n" + prompt + "\n\n" +
			"Return valid Python FastAPI code with proper endpoints.\nDO NOT use markdown backticks."
	case RoleDatabase:
		return "You are a database architect.\n" + prompt + "\n\n" +
			"Return valid PostgreSQL CREATE TABLE statements.\nDO NOT use markdown backticks."
	case RoleParser:
		return prompt + "\n\nReturn ONLY valid JSON. No markdown, no explanations."
	default:
		return prompt
	}
}
