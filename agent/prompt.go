package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/GoCodeAlone/guild/escalation"
	"github.com/GoCodeAlone/guild/task"
	"github.com/GoCodeAlone/guild/tools"
)

// ErrMalformedResponse is returned when provider output cannot be parsed
// into the expected shape.
var ErrMalformedResponse = errors.New("malformed provider response")

var title = cases.Title(language.English)

// Plan is the structured output of a planning request.
type Plan struct {
	Reasoning string        `json:"reasoning"`
	Actions   []task.Action `json:"actions"`
}

// Reflection is the structured output of a reflection request.
type Reflection struct {
	Critique   string `json:"critique"`
	IsComplete bool   `json:"is_complete"`
	Summary    string `json:"summary,omitempty"`
}

const goldenRule = `Never invent information you were not given: names, numbers, credentials, decisions.
If you need information you do not have, use ` + tools.ToolEscalate + ` to ask your superior.
When you are asked a question you cannot answer, prefix your entire response with ` + escalation.QuestionPrefix + `.`

func (a *Agent) persona() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s (agent id %q).", a.profile.Role, a.profile.ID)
	if d := strings.TrimSpace(a.profile.Directive); d != "" {
		b.WriteString("\n")
		b.WriteString(d)
	}
	b.WriteString("\n\n")
	b.WriteString(goldenRule)
	return b.String()
}

func planningPrompt(t task.Task, manifest []tools.Tool) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(t.Description)
	b.WriteString("\n\n## Available tools\n")
	if len(manifest) == 0 {
		b.WriteString("(none)\n")
	}
	for _, tool := range manifest {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		if tool.Params != "" {
			fmt.Fprintf(&b, "  payload: %s\n", tool.Params)
		}
	}

	if len(t.Attempts) > 0 {
		b.WriteString("\n## Previous attempts\n")
		b.WriteString("Earlier attempts at this task were judged incomplete. Use them to course-correct.\n")
		for i, at := range t.Attempts {
			fmt.Fprintf(&b, "\n### Attempt %d\n", i+1)
			writeField(&b, "reasoning", at.Reasoning)
			writeField(&b, "actions", mustJSON(at.Actions))
			writeField(&b, "execution_results", mustJSON(at.Results))
			writeField(&b, "critique", at.Critique)
		}
	}

	b.WriteString("\n## Response format\n")
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"reasoning": "short rationale", "actions": [{"tool_name": "TOOL", "payload": {}}]}`)
	b.WriteString("\nAn empty actions list is allowed when nothing needs doing.\n")
	return b.String()
}

func reflectionPrompt(t task.Task, plan Plan, results []task.ActionResult) string {
	var b strings.Builder
	b.WriteString("## Task\n")
	b.WriteString(t.Description)
	b.WriteString("\n\n## Your plan\n")
	writeField(&b, "reasoning", plan.Reasoning)
	writeField(&b, "actions", mustJSON(plan.Actions))
	writeField(&b, "execution_results", mustJSON(results))
	if n := repeatedAttempt(t.Attempts, plan.Actions); n > 0 {
		fmt.Fprintf(&b, "\nThese actions repeat attempt %d, which was judged incomplete.\n", n)
	}

	b.WriteString("\n## Review\n")
	b.WriteString("Critique the work honestly against the task. ")
	b.WriteString("If the critique names any defect (a missing detail, an error, or low quality) is_complete MUST be false.\n")
	b.WriteString("Reply with a single JSON object and nothing else:\n")
	b.WriteString(`{"critique": "what is good or missing", "is_complete": false, "summary": "final result when complete"}`)
	b.WriteString("\n")
	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "- %s: %s\n", title.String(strings.ReplaceAll(key, "_", " ")), value)
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// extractObject returns the outermost JSON object in raw, tolerating
// markdown code fences and prose around it.
func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object found", ErrMalformedResponse)
	}
	return s[start : end+1], nil
}

// ParsePlan strictly decodes provider output into a Plan. The actions key
// is required and every action must name a tool.
func ParsePlan(raw string) (Plan, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return Plan{}, err
	}
	var shape struct {
		Reasoning string         `json:"reasoning"`
		Actions   *[]task.Action `json:"actions"`
	}
	if err := json.Unmarshal([]byte(obj), &shape); err != nil {
		return Plan{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if shape.Actions == nil {
		return Plan{}, fmt.Errorf("%w: missing \"actions\"", ErrMalformedResponse)
	}
	for i, act := range *shape.Actions {
		if strings.TrimSpace(act.ToolName) == "" {
			return Plan{}, fmt.Errorf("%w: action %d has no tool_name", ErrMalformedResponse, i)
		}
		if act.Payload == nil {
			(*shape.Actions)[i].Payload = map[string]any{}
		}
	}
	return Plan{Reasoning: shape.Reasoning, Actions: *shape.Actions}, nil
}

// ParseReflection strictly decodes provider output into a Reflection.
// is_complete is required.
func ParseReflection(raw string) (Reflection, error) {
	obj, err := extractObject(raw)
	if err != nil {
		return Reflection{}, err
	}
	var shape struct {
		Critique   string `json:"critique"`
		IsComplete *bool  `json:"is_complete"`
		Summary    string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(obj), &shape); err != nil {
		return Reflection{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if shape.IsComplete == nil {
		return Reflection{}, fmt.Errorf("%w: missing \"is_complete\"", ErrMalformedResponse)
	}
	return Reflection{Critique: shape.Critique, IsComplete: *shape.IsComplete, Summary: shape.Summary}, nil
}
