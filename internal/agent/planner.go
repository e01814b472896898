package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

// PlannedCall is one tool call the planner wants executed next.
type PlannedCall struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
	Reason     string         `json:"reason,omitempty"`
}

// Plan is the planner's structured decision for one iteration.
type Plan struct {
	Analysis    string        `json:"analysis"`
	ToolCalls   []PlannedCall `json:"tool_calls"`
	IsComplete  bool          `json:"is_complete"`
	NextSteps   string        `json:"next_steps,omitempty"`
	Summary     string        `json:"summary,omitempty"`
	ParseError  bool          `json:"-"`
}

type plannerRawResponse struct {
	Analysis   string        `json:"analysis"`
	ToolCalls  []PlannedCall `json:"tool_calls"`
	IsComplete bool          `json:"is_complete"`
	NextSteps  string        `json:"next_steps"`
	Summary    string        `json:"summary"`
}

// Planner decides the next batch of tool calls, or declares completion.
type Planner struct {
	llm          llm.Client
	systemPrompt string
}

// NewPlanner precomputes its system prompt once from the registry's
// definitions, the same way a freshly-rendered tools description is baked
// in at construction time rather than re-rendered every call.
func NewPlanner(client llm.Client, defs []tools.Definition) *Planner {
	return &Planner{llm: client, systemPrompt: buildPlannerSystemPrompt(defs)}
}

func buildPlannerSystemPrompt(defs []tools.Definition) string {
	var b strings.Builder
	b.WriteString("You are the planning component of a memory-retrieval agent over a temporal knowledge graph.\n")
	b.WriteString("Decide the next batch of tool calls needed to answer the user's question, or declare completion.\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("1. Most tools need an entity_id, obtainable only via search_entity. Never invent an entity_id.\n")
	b.WriteString("2. Names may have aliases; search broadly before narrowing.\n")
	b.WriteString("3. memory_cache_id equality identifies scene co-occurrence; physical_time orders events.\n")
	b.WriteString("4. If prior tool results are already provided, explicitly judge whether they are sufficient; you may set is_complete=true with no tool calls.\n\n")
	b.WriteString("Available tools:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		for _, p := range d.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&b, "    %s (%s, %s): %s\n", p.Name, p.Type, req, p.Description)
		}
	}
	b.WriteString("\nRespond with a single JSON object: {\"analysis\": string, \"tool_calls\": [{\"tool_name\":string,\"parameters\":object,\"reason\":string}], \"is_complete\": bool, \"next_steps\": string, \"summary\": string}.")
	return b.String()
}

// Plan asks the LLM for the next step. collectedInfo is a rendered digest
// of prior tool outcomes; reasoningState is ReasoningCache.StateSummary(),
// optional.
func (p *Planner) Plan(ctx context.Context, question string, collectedInfo []string, reasoningState string) (Plan, error) {
	var req strings.Builder
	fmt.Fprintf(&req, "Question: %s\n\n", question)

	if len(collectedInfo) > 0 {
		req.WriteString("Collected information so far:\n")
		for _, info := range collectedInfo {
			fmt.Fprintf(&req, "- %s\n", info)
		}
		req.WriteString("\nJudge explicitly whether this is sufficient to answer. If so, set is_complete=true with an empty tool_calls list.\n\n")
	}

	if reasoningState != "" {
		fmt.Fprintf(&req, "Reasoning state:\n%s\n\n", reasoningState)
	}

	req.WriteString("What should happen next?")

	resp, err := p.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: p.systemPrompt},
			{Role: "user", Content: req.String()},
		},
		Temperature: llm.Temp(0.2),
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planner: chat: %w", err)
	}

	var raw plannerRawResponse
	if !extractJSON(resp.Content, &raw) {
		return Plan{Analysis: resp.Content, ParseError: true}, nil
	}

	plan := Plan{
		Analysis:   raw.Analysis,
		IsComplete: raw.IsComplete,
		NextSteps:  raw.NextSteps,
		Summary:    raw.Summary,
	}
	for _, tc := range raw.ToolCalls {
		if tc.ToolName == "" {
			continue
		}
		plan.ToolCalls = append(plan.ToolCalls, tc)
	}
	return plan, nil
}

// FilterKnownTools drops any tool call naming a tool absent from registry —
// the planner must not be trusted to only name real tools.
func FilterKnownTools(calls []PlannedCall, registry *tools.Registry) []PlannedCall {
	out := calls[:0:0]
	for _, c := range calls {
		if registry.Has(c.ToolName) {
			out = append(out, c)
		}
	}
	return out
}
