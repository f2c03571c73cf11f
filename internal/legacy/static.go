// Package legacy analyzes an existing Python codebase and integrates a new
// feature into it while proving backward compatibility.
package legacy

import (
	"regexp"
	"sort"
	"strings"
)

// ClassInfo describes one class and its methods.
type ClassInfo struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
	Line    int      `json:"line"`
}

// FunctionInfo describes one function declaration.
type FunctionInfo struct {
	Name       string   `json:"name"`
	Args       []string `json:"args"`
	Decorators []string `json:"decorators"`
	Line       int      `json:"line"`
}

// EndpointInfo is a decorator-recognized route declaration.
type EndpointInfo struct {
	Method   string `json:"method"`
	Function string `json:"function"`
	Line     int    `json:"line"`
}

// StaticAnalysis is the phase-one result. ParseError marks input the scanner
// could not make sense of; later phases degrade instead of crashing.
type StaticAnalysis struct {
	Classes            []ClassInfo    `json:"classes"`
	Functions          []FunctionInfo `json:"functions"`
	Endpoints          []EndpointInfo `json:"endpoints"`
	Imports            []string       `json:"imports"`
	Dependencies       []string       `json:"dependencies"`
	GlobalVariables    []string       `json:"global_variables"`
	FrameworksDetected []string       `json:"frameworks_detected"`
	ComplexityScore    int            `json:"complexity_score"`
	ParseError         bool           `json:"parse_error,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// FunctionNames returns the set of declared function names.
func (a *StaticAnalysis) FunctionNames() map[string]bool {
	names := make(map[string]bool, len(a.Functions))
	for _, f := range a.Functions {
		names[f.Name] = true
	}
	return names
}

// EndpointFunctions returns the set of endpoint function names.
func (a *StaticAnalysis) EndpointFunctions() map[string]bool {
	names := make(map[string]bool, len(a.Endpoints))
	for _, e := range a.Endpoints {
		names[e.Function] = true
	}
	return names
}

var (
	classPattern    = regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`)
	defPattern      = regexp.MustCompile(`^(\s*)def\s+([A-Za-z_]\w*)\s*\(([^)]*)`)
	decoratorLine   = regexp.MustCompile(`^\s*@([\w.]+)`)
	importPattern   = regexp.MustCompile(`^import\s+([\w.]+)`)
	fromPattern     = regexp.MustCompile(`^from\s+([\w.]+)\s+import`)
	constantPattern = regexp.MustCompile(`^([A-Za-z_]\w*)\s*=\s*(?:["'\d]|True|False|None)`)

	routeDecorators = map[string]string{
		"route":  "GET",
		"get":    "GET",
		"post":   "POST",
		"put":    "PUT",
		"delete": "DELETE",
		"patch":  "PATCH",
	}

	frameworkHints = map[string]string{
		"flask":   "Flask",
		"fastapi": "FastAPI",
		"django":  "Django",
	}
)

// AnalyzeSource performs line-level static analysis of Python source. It is
// a fallible heuristic scanner: structure is recognized per line, pending
// decorators attach to the next def, and methods are defs indented under the
// most recent class.
func AnalyzeSource(code string) *StaticAnalysis {
	analysis := &StaticAnalysis{
		Classes:            []ClassInfo{},
		Functions:          []FunctionInfo{},
		Endpoints:          []EndpointInfo{},
		Imports:            []string{},
		Dependencies:       []string{},
		GlobalVariables:    []string{},
		FrameworksDetected: []string{},
	}

	if strings.TrimSpace(code) == "" {
		analysis.ParseError = true
		analysis.Error = "parsing failed: empty source"
		return analysis
	}
	if !delimitersBalanced(code) {
		analysis.ParseError = true
		analysis.Error = "parsing failed: unbalanced delimiters"
		return analysis
	}

	deps := map[string]bool{}
	frameworks := map[string]bool{}
	var pendingDecorators []string
	var currentClass *ClassInfo

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lineno := i + 1

		if m := decoratorLine.FindStringSubmatch(line); m != nil {
			// Keep the last decorator path segment: @app.get -> get.
			parts := strings.Split(m[1], ".")
			pendingDecorators = append(pendingDecorators, parts[len(parts)-1])
			continue
		}

		if m := classPattern.FindStringSubmatch(line); m != nil {
			analysis.Classes = append(analysis.Classes, ClassInfo{
				Name:    m[1],
				Methods: []string{},
				Line:    lineno,
			})
			currentClass = &analysis.Classes[len(analysis.Classes)-1]
			pendingDecorators = nil
			continue
		}

		if m := defPattern.FindStringSubmatch(line); m != nil {
			indent, name, rawArgs := m[1], m[2], m[3]

			fn := FunctionInfo{
				Name:       name,
				Args:       splitArgs(rawArgs),
				Decorators: append([]string{}, pendingDecorators...),
				Line:       lineno,
			}
			analysis.Functions = append(analysis.Functions, fn)

			if indent != "" && currentClass != nil {
				currentClass.Methods = append(currentClass.Methods, name)
			} else if indent == "" {
				currentClass = nil
			}

			for _, dec := range pendingDecorators {
				if method, ok := routeDecorators[dec]; ok {
					analysis.Endpoints = append(analysis.Endpoints, EndpointInfo{
						Method:   method,
						Function: name,
						Line:     lineno,
					})
				}
			}
			pendingDecorators = nil
			continue
		}

		pendingDecorators = nil

		if m := importPattern.FindStringSubmatch(line); m != nil {
			analysis.Imports = append(analysis.Imports, m[1])
			deps[strings.SplitN(m[1], ".", 2)[0]] = true
			markFramework(m[1], frameworks)
			continue
		}
		if m := fromPattern.FindStringSubmatch(line); m != nil {
			analysis.Imports = append(analysis.Imports, m[1])
			deps[strings.SplitN(m[1], ".", 2)[0]] = true
			markFramework(m[1], frameworks)
			continue
		}

		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			if m := constantPattern.FindStringSubmatch(line); m != nil {
				analysis.GlobalVariables = append(analysis.GlobalVariables, m[1])
			}
		}
	}

	analysis.Dependencies = sortedKeys(deps)
	analysis.FrameworksDetected = sortedKeys(frameworks)
	analysis.ComplexityScore = len(analysis.Classes)*3 +
		len(analysis.Functions)*2 +
		len(analysis.Endpoints)*5

	return analysis
}

func markFramework(module string, frameworks map[string]bool) {
	lower := strings.ToLower(module)
	for hint, name := range frameworkHints {
		if strings.Contains(lower, hint) {
			frameworks[name] = true
		}
	}
}

func splitArgs(raw string) []string {
	args := []string{}
	for _, part := range strings.Split(raw, ",") {
		arg := strings.TrimSpace(part)
		if arg == "" {
			continue
		}
		// Drop default values and annotations.
		if idx := strings.IndexAny(arg, "=:"); idx >= 0 {
			arg = strings.TrimSpace(arg[:idx])
		}
		arg = strings.TrimLeft(arg, "*")
		if arg != "" {
			args = append(args, arg)
		}
	}
	return args
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// delimitersBalanced is a cheap structural sanity check standing in for a
// full parse: unbalanced brackets mean the scanner's line heuristics cannot
// be trusted.
func delimitersBalanced(code string) bool {
	counts := map[rune]int{}
	inString := false
	inComment := false
	var quote rune
	for _, r := range code {
		if r == '\n' {
			inComment = false
			continue
		}
		if inComment {
			continue
		}
		if inString {
			if r == quote {
				inString = false
			}
			continue
		}
		switch r {
		case '#':
			inComment = true
		case '\'', '"':
			inString = true
			quote = r
		case '(', '[', '{':
			counts[r]++
		case ')':
			counts['(']--
		case ']':
			counts['[']--
		case '}':
			counts['{']--
		}
	}
	return counts['('] == 0 && counts['['] == 0 && counts['{'] == 0
}
