package agents

import (
	"encoding/json"
	"fmt"

	"devorchestra/internal/ai"
)

// requiredRequirementKeys are the exact top-level keys the parser must emit.
var requiredRequirementKeys = []string{
	"frontend_requirements",
	"backend_requirements",
	"database_requirements",
}

// roleSpec carries everything role-specific as data: the prompt template,
// the envelope decoder and the synthesizer used when decoding fails. Roles
// are dispatched through this table, never by matching on the role string.
type roleSpec struct {
	agentID    string
	prompt     func(requirements string) string
	decode     func(env *ai.Envelope, requirements string) (map[string]any, error)
	synthesize func(requirements string) map[string]any
}

var roleTable = map[ai.Role]roleSpec{
	ai.RoleParser: {
		agentID: "ado_parser",
		prompt: func(requirements string) string {
			return fmt.Sprintf(`Analyze this user story and break it into technical requirements:

USER STORY: %s

Extract and return ONLY a valid JSON object with these exact keys:
{
    "frontend_requirements": "Detailed React/UI requirements with specific components needed",
    "backend_requirements": "Detailed API/Backend requirements with specific endpoints",
    "database_requirements": "Detailed Database schema requirements with specific tables and fields"
}

Return ONLY the JSON object, no markdown, no explanation.`, requirements)
		},
		decode: decodeParser,
		synthesize: func(requirements string) map[string]any {
			return map[string]any{
				"frontend_requirements": "Create a React application for: " + requirements,
				"backend_requirements":  "Create a REST API backend for: " + requirements,
				"database_requirements": "Create a database schema for: " + requirements,
			}
		},
	},
	ai.RoleFrontend: {
		agentID: "frontend_agent",
		prompt: func(requirements string) string {
			return "Generate a React component for: " + requirements
		},
		decode: func(env *ai.Envelope, _ string) (map[string]any, error) {
			if env.Text == "" {
				return nil, fmt.Errorf("empty component code")
			}
			return map[string]any{
				"component_code": env.Text,
				"dependencies":   env.Dependencies,
			}, nil
		},
		synthesize: func(requirements string) map[string]any {
			return map[string]any{
				"component_code": "// Create a UI for: " + requirements,
				"dependencies":   []string{"react"},
			}
		},
	},
	ai.RoleBackend: {
		agentID: "backend_agent",
		prompt: func(requirements string) string {
			return "Generate a Python API for: " + requirements
		},
		decode: func(env *ai.Envelope, _ string) (map[string]any, error) {
			if env.Text == "" {
				return nil, fmt.Errorf("empty api code")
			}
			return map[string]any{
				"api_code":  env.Text,
				"endpoints": env.Endpoints,
			}, nil
		},
		synthesize: func(requirements string) map[string]any {
			return map[string]any{
				"api_code":  "# Create a REST API for: " + requirements,
				"endpoints": []string{"GET /"},
			}
		},
	},
	ai.RoleDatabase: {
		agentID: "database_agent",
		prompt: func(requirements string) string {
			return "Generate PostgreSQL schema for: " + requirements
		},
		decode: func(env *ai.Envelope, _ string) (map[string]any, error) {
			if env.Text == "" {
				return nil, fmt.Errorf("empty schema")
			}
			return map[string]any{
				"schema_sql": env.Text,
				"tables":     env.Tables,
			}, nil
		},
		synthesize: func(requirements string) map[string]any {
			return map[string]any{
				"schema_sql": "-- Create a schema for: " + requirements,
				"tables":     []string{"main_table"},
			}
		},
	},
}

// decodeParser decodes the parser response and enforces the three-key
// contract, filling any missing key with a synthesized default.
func decodeParser(env *ai.Envelope, requirements string) (map[string]any, error) {
	if env.Fallback {
		return nil, fmt.Errorf("completion unavailable (quota fallback)")
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(env.Text), &parsed); err != nil {
		return nil, fmt.Errorf("requirements JSON decode: %w", err)
	}
	for _, key := range requiredRequirementKeys {
		if _, ok := parsed[key]; !ok {
			parsed[key] = "Create implementation for: " + requirements
		}
	}
	return parsed, nil
}

// FallbackPayload returns the canned minimal-but-valid payload the
// orchestrator substitutes when an agent fails outright.
func FallbackPayload(role ai.Role, requirements string) map[string]any {
	spec, ok := roleTable[role]
	if !ok {
		return map[string]any{"message": "no payload available"}
	}
	env := ai.FallbackEnvelope(role)
	if payload, err := spec.decode(env, requirements); err == nil {
		return payload
	}
	return spec.synthesize(requirements)
}

// AgentID returns the stable identifier used in progress events for a role.
func AgentID(role ai.Role) string {
	if spec, ok := roleTable[role]; ok {
		return spec.agentID
	}
	return string(role)
}
