package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/reasoning"
)

// Reasoner owns fact integration and conclusion-drawing over a Cache.
type Reasoner struct {
	llm   llm.Client
	cache *reasoning.Cache
}

func NewReasoner(client llm.Client, cache *reasoning.Cache) *Reasoner {
	return &Reasoner{llm: client, cache: cache}
}

type analyzeResponse struct {
	QuestionType string   `json:"question_type"`
	SubGoals     []string `json:"sub_goals"`
	MissingInfo  []string `json:"missing_info"`
	Hypotheses   []string `json:"hypotheses"`
}

// Analyze classifies the question and seeds the cache's initial sub-goals,
// missing_info, and hypotheses. On an LLM or parse failure it falls back to
// a keyword heuristic so the loop can still proceed.
func (r *Reasoner) Analyze(ctx context.Context, question string) (reasoning.QuestionType, error) {
	resp, err := r.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Classify the question_type as one of direct, reasoning, temporal_reasoning, and propose 1-3 sub_goals, any missing_info, and optional hypotheses. Respond as JSON: {\"question_type\":string,\"sub_goals\":[string],\"missing_info\":[string],\"hypotheses\":[string]}."},
			{Role: "user", Content: question},
		},
		Temperature: llm.Temp(0.1),
	})

	var qt reasoning.QuestionType
	var parsed analyzeResponse
	ok := err == nil && extractJSON(resp.Content, &parsed)
	if ok {
		if t, valid := reasoning.ValidQuestionType(parsed.QuestionType); valid {
			qt = t
		}
	}
	if qt == "" {
		qt = heuristicQuestionType(question)
	}

	r.cache.Init(question, qt)

	if ok {
		for _, g := range parsed.SubGoals {
			_, _ = r.cache.AddSubGoal(g, nil)
		}
		for _, m := range parsed.MissingInfo {
			r.cache.AddMissingInfo(m)
		}
		for _, h := range parsed.Hypotheses {
			_, _ = r.cache.AddHypothesis(h, 0.5)
		}
	}

	return qt, nil
}

var temporalMarkers = []string{"第一次", "第几", "first", "when did", "顺序"}
var reasoningMarkers = []string{"关系", "relation", "why", "how are", "related"}

func heuristicQuestionType(question string) reasoning.QuestionType {
	if containsAny(question, temporalMarkers) {
		return reasoning.TemporalReasoning
	}
	if containsAny(question, reasoningMarkers) {
		return reasoning.Reasoning
	}
	return reasoning.Direct
}

// IntegrateFacts is deterministic and makes no LLM call: it folds raw tool
// outcomes into the cache's fact tables.
func (r *Reasoner) IntegrateFacts(toolOutcomes []map[string]any) {
	for _, outcome := range toolOutcomes {
		if entities, ok := outcome["entities"].([]any); ok {
			for _, e := range entities {
				r.integrateEntity(e)
			}
		}
		if entity, ok := outcome["entity"]; ok {
			r.integrateEntity(entity)
		}
		if relations, ok := outcome["relations"].([]any); ok {
			for _, rel := range relations {
				r.integrateRelation(rel)
			}
		}
		if versions, ok := outcome["versions"].([]any); ok && len(versions) > 0 {
			entityID := ""
			if e, ok := versions[0].(map[string]any); ok {
				entityID, _ = e["entity_id"].(string)
			}
			if entityID != "" {
				r.cache.AddKnownFact("versions_"+entityID, map[string]any{
					"earliest_time": outcome["earliest_time"],
					"latest_time":   outcome["latest_time"],
					"count":         len(versions),
				})
			}
		}
		if cache, ok := outcome["cache"].(map[string]any); ok {
			if id, ok := cache["memory_cache_id"].(string); ok && id != "" {
				r.cache.AddKnownFact("scene_"+id, cache)
			}
		}
	}
}

func (r *Reasoner) integrateEntity(e any) {
	m, ok := e.(map[string]any)
	if !ok {
		return
	}
	id, _ := m["entity_id"].(string)
	if id == "" {
		return
	}
	r.cache.AddEntityFact(id, m)
	if name, _ := m["name"].(string); name != "" {
		r.cache.RemoveMissingInfo(fmt.Sprintf("find %s", name))
	}
}

func (r *Reasoner) integrateRelation(rel any) {
	m, ok := rel.(map[string]any)
	if !ok {
		return
	}
	id, _ := m["relation_id"].(string)
	if id == "" {
		return
	}
	r.cache.AddRelationFact(id, m)
}

type concludeResponse struct {
	CanConclude     bool     `json:"can_conclude"`
	Conclusion      string   `json:"conclusion"`
	Confidence      float64  `json:"confidence"`
	ReasoningSteps  []string `json:"reasoning_steps"`
	Evidence        []string `json:"evidence"`
	MissingInfo     []string `json:"missing_info"`
	FailedStrategy  string   `json:"failed_strategy"`
}

// TryConclude asks whether the accumulated facts are sufficient to answer.
// On success it records the conclusion plus its supporting reasoning_step_*
// and evidence_* known facts. On failure it may still add missing_info or a
// failed_strategy entry to steer the next iteration.
func (r *Reasoner) TryConclude(ctx context.Context) (bool, string, float64, error) {
	summary := r.cache.StateSummary()
	resp, err := r.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "Given the reasoning state, decide if there is enough evidence to conclude. Respond as JSON: {\"can_conclude\":bool,\"conclusion\":string,\"confidence\":number,\"reasoning_steps\":[string],\"evidence\":[string],\"missing_info\":[string],\"failed_strategy\":string}."},
			{Role: "user", Content: summary},
		},
		Temperature: llm.Temp(0.2),
	})
	if err != nil {
		return false, "", 0, fmt.Errorf("reasoner: try_conclude chat: %w", err)
	}

	var parsed concludeResponse
	if !extractJSON(resp.Content, &parsed) {
		return false, "", 0, nil
	}

	if !parsed.CanConclude {
		for _, m := range parsed.MissingInfo {
			r.cache.AddMissingInfo(m)
		}
		if parsed.FailedStrategy != "" {
			r.cache.AddFailedStrategy(parsed.FailedStrategy)
		}
		return false, "", 0, nil
	}

	for i, step := range parsed.ReasoningSteps {
		r.cache.AddKnownFact(fmt.Sprintf("reasoning_step_%d", i+1), step)
	}
	for i, ev := range parsed.Evidence {
		r.cache.AddKnownFact(fmt.Sprintf("evidence_%d", i+1), ev)
	}
	if len(parsed.ReasoningSteps) == 0 && len(parsed.Evidence) == 0 {
		// The conclusion-requires-evidence invariant still needs a
		// supporting entry even when the model omitted a chain.
		r.cache.AddKnownFact("reasoning_step_1", parsed.Conclusion)
	}

	r.cache.SetConclusion(parsed.Conclusion, parsed.Confidence)
	return true, parsed.Conclusion, parsed.Confidence, nil
}

// RenderToolOutcome turns one Executor result's Data into the short digest
// string that the ContextManager digest feeds to the planner and evaluator
// prompts.
func RenderToolOutcome(toolName string, data map[string]any, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s @ %s] ", toolName, at.Format(time.RFC3339))
	if data == nil {
		b.WriteString("(no data)")
		return b.String()
	}
	if entities, ok := data["entities"].([]any); ok {
		fmt.Fprintf(&b, "%d entities found", len(entities))
		return b.String()
	}
	if _, ok := data["entity"]; ok {
		b.WriteString("1 entity found")
		return b.String()
	}
	if relations, ok := data["relations"].([]any); ok {
		fmt.Fprintf(&b, "%d relations found", len(relations))
		return b.String()
	}
	if paths, ok := data["paths"].([]any); ok {
		fmt.Fprintf(&b, "%d paths found", len(paths))
		return b.String()
	}
	b.WriteString("result received")
	return b.String()
}
