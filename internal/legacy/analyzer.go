package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"devorchestra/internal/ai"
)

const (
	diffContextLines = 3
	maxDiffLines     = 50
	maxChangeLines   = 10
	snippetLimit     = 3000
)

// Modifications is the phase-four output: the rewritten codebase and a
// summary of what changed.
type Modifications struct {
	ModifiedCode string   `json:"modified_code"`
	ChangesMade  []string `json:"changes_made"`
	NewLines     int      `json:"new_lines"`
	Error        string   `json:"error,omitempty"`
}

// CompatibilityReport compares old and new analyses at the contract level.
// Compatibility holds when every original endpoint and function survives.
type CompatibilityReport struct {
	IsCompatible       bool     `json:"is_compatible"`
	MissingEndpoints   []string `json:"missing_endpoints"`
	NewEndpoints       []string `json:"new_endpoints"`
	MissingFunctions   []string `json:"missing_functions"`
	NewFunctions       []string `json:"new_functions"`
	CompatibilityScore int      `json:"compatibility_score"`
}

// RiskAssessment grades the modification for a human reviewer.
type RiskAssessment struct {
	RiskLevel      string   `json:"risk_level"`
	RiskScore      int      `json:"risk_score"`
	Concerns       []string `json:"concerns"`
	Recommendation string   `json:"recommendation"`
}

// Report is the full legacy-integration result across all four phases.
type Report struct {
	Phase1ASTAnalysis     *StaticAnalysis     `json:"phase1_ast_analysis"`
	Phase2Understanding   string              `json:"phase2_understanding"`
	Phase3IntegrationPlan string              `json:"phase3_integration_plan"`
	Phase4Modifications   *Modifications      `json:"phase4_modifications"`
	Compatibility         CompatibilityReport `json:"compatibility_report"`
	BackwardCompatible    bool                `json:"backward_compatible"`
	Risk                  RiskAssessment      `json:"risk_assessment"`
	Diff                  string              `json:"diff"`
}

// Analyzer runs the four-phase legacy integration pipeline: static analysis,
// semantic understanding, integration planning and code modification. Every
// phase degrades rather than fails; the caller always receives a full report.
type Analyzer struct {
	client *ai.Client
	log    *zap.Logger
}

// NewAnalyzer creates the legacy analyzer.
func NewAnalyzer(client *ai.Client, log *zap.Logger) *Analyzer {
	return &Analyzer{client: client, log: log}
}

// Analyze integrates newFeature into legacyCode and reports the result.
func (a *Analyzer) Analyze(ctx context.Context, legacyCode, newFeature string) *Report {
	report := &Report{}

	report.Phase1ASTAnalysis = AnalyzeSource(legacyCode)
	if report.Phase1ASTAnalysis.ParseError {
		a.log.Warn("legacy static analysis failed",
			zap.String("error", report.Phase1ASTAnalysis.Error))
	}

	report.Phase2Understanding = a.understand(ctx, legacyCode, report.Phase1ASTAnalysis)
	report.Phase3IntegrationPlan = a.plan(ctx, newFeature, report.Phase1ASTAnalysis, report.Phase2Understanding)
	report.Phase4Modifications = a.modify(ctx, legacyCode, newFeature, report.Phase3IntegrationPlan, report.Phase1ASTAnalysis)

	modifiedAnalysis := AnalyzeSource(report.Phase4Modifications.ModifiedCode)
	report.Compatibility = compareAnalyses(report.Phase1ASTAnalysis, modifiedAnalysis)
	report.BackwardCompatible = report.Compatibility.IsCompatible
	report.Risk = assessRisk(report)
	report.Diff = unifiedDiff(legacyCode, report.Phase4Modifications.ModifiedCode)

	return report
}

// understand is phase two: a one-shot semantic summary of the codebase.
func (a *Analyzer) understand(ctx context.Context, legacyCode string, analysis *StaticAnalysis) string {
	if analysis.ParseError {
		return "analysis unavailable: source could not be parsed"
	}

	prompt := fmt.Sprintf(`Analyze this legacy Python codebase and explain its architecture:

CODE:
%s

STRUCTURE:
- Classes: %d
- Functions: %d
- Endpoints: %d
- Frameworks: %s

Explain in 3-5 sentences: what this application does, its main components,
and how data flows through it. Plain text only.`,
		truncate(legacyCode, snippetLimit),
		len(analysis.Classes), len(analysis.Functions), len(analysis.Endpoints),
		strings.Join(analysis.FrameworksDetected, ", "))

	env, err := a.client.Complete(ctx, prompt, ai.RoleLegacy)
	if err != nil || env.Fallback {
		return "analysis unavailable: semantic understanding degraded (quota fallback)"
	}
	return env.Text
}

// plan is phase three: decide where and how the new feature lands.
func (a *Analyzer) plan(ctx context.Context, newFeature string, analysis *StaticAnalysis, understanding string) string {
	if analysis.ParseError {
		return "analysis unavailable: source could not be parsed"
	}

	existing := make([]string, 0, len(analysis.Endpoints))
	for _, e := range analysis.Endpoints {
		existing = append(existing, e.Method+" "+e.Function)
	}

	prompt := fmt.Sprintf(`Plan how to integrate a new feature into an existing codebase.

CODEBASE UNDERSTANDING:
%s

EXISTING ENDPOINTS: %s

NEW FEATURE: %s

Produce a short integration plan:
1. Which existing modules to touch
2. What new functions/endpoints to add
3. How to avoid breaking existing behavior
Plain text only.`, understanding, strings.Join(existing, ", "), newFeature)

	env, err := a.client.Complete(ctx, prompt, ai.RoleLegacy)
	if err != nil || env.Fallback {
		return "analysis unavailable: integration planning degraded (quota fallback)"
	}
	return env.Text
}

// modify is phase four: produce the rewritten codebase. On any failure the
// original code is returned verbatim so downstream diffing and compatibility
// checks stay meaningful.
func (a *Analyzer) modify(ctx context.Context, legacyCode, newFeature, plan string, analysis *StaticAnalysis) *Modifications {
	unchanged := func(reason string) *Modifications {
		return &Modifications{
			ModifiedCode: legacyCode,
			ChangesMade:  []string{},
			NewLines:     0,
			Error:        reason,
		}
	}

	if analysis.ParseError {
		return unchanged("modification skipped: source could not be parsed")
	}

	prompt := fmt.Sprintf(`Modify this legacy Python code to add a new feature.

ORIGINAL CODE:
%s

NEW FEATURE: %s

INTEGRATION PLAN:
%s

RULES:
1. Keep ALL existing functions and endpoints working exactly as before
2. Add the new feature following the plan
3. Match the existing code style

Return ONLY the complete modified Python file. No markdown, no explanations.`,
		truncate(legacyCode, snippetLimit), newFeature, plan)

	env, err := a.client.Complete(ctx, prompt, ai.RoleLegacy)
	if err != nil {
		return unchanged("modification failed: " + err.Error())
	}
	if env.Fallback {
		return unchanged("modification failed: completion unavailable (quota fallback)")
	}

	modified := env.Text
	if strings.TrimSpace(modified) == "" {
		return unchanged("modification failed: empty completion")
	}

	return &Modifications{
		ModifiedCode: modified,
		ChangesMade:  changedLines(legacyCode, modified),
		NewLines:     countLines(modified) - countLines(legacyCode),
	}
}

// compareAnalyses derives the compatibility verdict from the before and
// after analyses. Compatibility requires the original endpoint set and
// function set to both survive as subsets of the modified code.
func compareAnalyses(original, modified *StaticAnalysis) CompatibilityReport {
	report := CompatibilityReport{
		MissingEndpoints: []string{},
		NewEndpoints:     []string{},
		MissingFunctions: []string{},
		NewFunctions:     []string{},
	}

	oldEndpoints := original.EndpointFunctions()
	newEndpoints := modified.EndpointFunctions()
	for name := range oldEndpoints {
		if !newEndpoints[name] {
			report.MissingEndpoints = append(report.MissingEndpoints, name)
		}
	}
	for name := range newEndpoints {
		if !oldEndpoints[name] {
			report.NewEndpoints = append(report.NewEndpoints, name)
		}
	}

	oldFuncs := original.FunctionNames()
	newFuncs := modified.FunctionNames()
	for name := range oldFuncs {
		if !newFuncs[name] {
			report.MissingFunctions = append(report.MissingFunctions, name)
		}
	}
	for name := range newFuncs {
		if !oldFuncs[name] {
			report.NewFunctions = append(report.NewFunctions, name)
		}
	}

	sort.Strings(report.MissingEndpoints)
	sort.Strings(report.NewEndpoints)
	sort.Strings(report.MissingFunctions)
	sort.Strings(report.NewFunctions)

	report.IsCompatible = len(report.MissingEndpoints) == 0 && len(report.MissingFunctions) == 0
	if report.IsCompatible {
		report.CompatibilityScore = 100
	} else {
		report.CompatibilityScore = 50
	}
	return report
}

// assessRisk scores the modification. Points accumulate per concern and the
// total buckets into low, medium or high.
func assessRisk(report *Report) RiskAssessment {
	risk := RiskAssessment{Concerns: []string{}}

	if report.Phase1ASTAnalysis.ComplexityScore > 50 {
		risk.RiskScore += 30
		risk.Concerns = append(risk.Concerns, fmt.Sprintf("high original complexity: score %d", report.Phase1ASTAnalysis.ComplexityScore))
	}
	if report.Phase4Modifications.NewLines > 50 {
		risk.RiskScore += 20
		risk.Concerns = append(risk.Concerns, fmt.Sprintf("large modification: %d new lines", report.Phase4Modifications.NewLines))
	}
	if report.Phase4Modifications.Error != "" {
		risk.RiskScore += 50
		risk.Concerns = append(risk.Concerns, "modification incomplete: "+report.Phase4Modifications.Error)
	}

	switch {
	case risk.RiskScore < 30:
		risk.RiskLevel = "low"
		risk.Recommendation = "Safe to deploy with standard review"
	case risk.RiskScore < 60:
		risk.RiskLevel = "medium"
		risk.Recommendation = "Review changes carefully before deploying"
	default:
		risk.RiskLevel = "high"
		risk.Recommendation = "Manual review required, do not deploy automatically"
	}
	return risk
}

// unifiedDiff renders a truncated unified diff between the original and
// modified code.
func unifiedDiff(original, modified string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: "original.py",
		ToFile:   "modified.py",
		Context:  diffContextLines,
	})
	if err != nil {
		return ""
	}

	lines := strings.Split(diff, "\n")
	if len(lines) > maxDiffLines {
		lines = append(lines[:maxDiffLines], "... (diff truncated)")
	}
	return strings.Join(lines, "\n")
}

// changedLines summarizes added and removed lines from the diff, capped.
func changedLines(original, modified string) []string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:       difflib.SplitLines(original),
		B:       difflib.SplitLines(modified),
		Context: 0,
	})
	if err != nil {
		return []string{}
	}

	changes := []string{}
	for _, line := range strings.Split(diff, "\n") {
		if len(changes) >= maxChangeLines {
			break
		}
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			changes = append(changes, "added: "+strings.TrimSpace(line[1:]))
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			changes = append(changes, "removed: "+strings.TrimSpace(line[1:]))
		}
	}
	return changes
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}

// MarshalReport renders the report as an orchestration payload map.
func MarshalReport(report *Report) map[string]any {
	raw, err := json.Marshal(report)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}
