package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/reasoning"
)

// AnswerType classifies how grounded the final answer is.
type AnswerType string

const (
	AnswerDirect    AnswerType = "direct"
	AnswerInferred  AnswerType = "inferred"
	AnswerUncertain AnswerType = "uncertain"
)

// Evidence is the supporting material behind a Summary.
type Evidence struct {
	Supporting     []string `json:"supporting"`
	EntitiesUsed   []string `json:"entities_used"`
	RelationsUsed  []string `json:"relations_used"`
}

// Summary is the Summarizer's final, structured output.
type Summary struct {
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Confidence     float64    `json:"confidence"`
	AnswerType     AnswerType `json:"answer_type"`
	ReasoningChain []string   `json:"reasoning_chain"`
	Evidence       Evidence   `json:"evidence"`
	Limitations    []string   `json:"limitations"`
	ContextText    string     `json:"context_text"`

	// RelevantEntityIDs/RelevantRelationIDs carry the filter step's verdict
	// back to the Orchestrator so it can rescore QueryResult.RetrievedMemories.
	// Both are nil when filterRelevant never ran a real narrowing pass
	// (nothing to filter, or the LLM call fell back to the all-facts
	// passthrough) — callers treat nil as "no opinion, leave scores alone."
	RelevantEntityIDs   []string `json:"-"`
	RelevantRelationIDs []string `json:"-"`
}

// Summarizer runs exactly once, after the loop, turning a ReasoningState
// into the final answer plus a downstream-consumable context paragraph.
type Summarizer struct {
	llm llm.Client
}

func NewSummarizer(client llm.Client) *Summarizer {
	return &Summarizer{llm: client}
}

// Summarize filters relevant facts, then produces a structured summary and
// a free-text context paragraph. Every LLM sub-step has a deterministic
// fallback so the loop can always terminate with a usable result.
func (s *Summarizer) Summarize(ctx context.Context, state *reasoning.ReasoningState) Summary {
	entities, relations, filtered := s.filterRelevant(ctx, state)

	summary := s.generateSummary(ctx, state, entities, relations)
	summary.ContextText = s.generateContextText(ctx, state, entities, relations)
	if filtered {
		summary.RelevantEntityIDs = idsOf(entities)
		summary.RelevantRelationIDs = idsOf(relations)
	}
	return summary
}

type filterResponse struct {
	RelevantEntities  []string `json:"relevant_entities"`
	RelevantRelations []string `json:"relevant_relations"`
}

// filterRelevant asks the LLM which facts matter; if the LLM call fails or
// returns nothing while the state actually has facts, it falls back to all
// stored facts. The third return value reports whether a real narrowing
// pass happened (false for "nothing to filter" and for the all-facts
// fallback, true whenever the LLM's verdict was actually applied).
func (s *Summarizer) filterRelevant(ctx context.Context, state *reasoning.ReasoningState) (map[string]map[string]any, map[string]map[string]any, bool) {
	if len(state.EntityFacts) == 0 && len(state.RelationFacts) == 0 {
		return nil, nil, false
	}

	prompt := fmt.Sprintf("Question: %s\nEntities: %v\nRelations: %v\n\nWhich entity_ids and relation_ids are relevant to answering the question? Respond as JSON: {\"relevant_entities\":[string],\"relevant_relations\":[string]}.",
		state.Question, idsOf(state.EntityFacts), idsOf(state.RelationFacts))

	resp, err := s.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You filter a knowledge-graph working set down to what is relevant for answering a question."},
			{Role: "user", Content: prompt},
		},
		Temperature: llm.Temp(0.1),
	})

	var filtered filterResponse
	if err == nil {
		extractJSON(resp.Content, &filtered)
	}

	entities := subset(state.EntityFacts, filtered.RelevantEntities)
	relations := subset(state.RelationFacts, filtered.RelevantRelations)

	if len(entities) == 0 && len(relations) == 0 {
		// LLM returned nothing usable: fall back to all stored facts
		// rather than reporting an empty result set.
		return state.EntityFacts, state.RelationFacts, false
	}
	return entities, relations, true
}

func idsOf(table map[string]map[string]any) []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func subset(table map[string]map[string]any, ids []string) map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, id := range ids {
		if bag, ok := table[id]; ok {
			out[id] = bag
		}
	}
	return out
}

type summaryResponse struct {
	Summary struct {
		Question   string  `json:"question"`
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
		AnswerType string  `json:"answer_type"`
	} `json:"summary"`
	ReasoningChain []string `json:"reasoning_chain"`
	Evidence       Evidence `json:"evidence"`
	Limitations    []string `json:"limitations"`
}

func (s *Summarizer) generateSummary(ctx context.Context, state *reasoning.ReasoningState, entities, relations map[string]map[string]any) Summary {
	prompt := fmt.Sprintf(
		"Question: %s\nConclusion so far: %q (confidence %.2f)\nEntities: %v\nRelations: %v\nHypotheses: %d\n\n"+
			"Produce a final structured answer. Respond as JSON: "+
			"{\"summary\":{\"question\":string,\"answer\":string,\"confidence\":number,\"answer_type\":\"direct|inferred|uncertain\"},"+
			"\"reasoning_chain\":[string],\"evidence\":{\"supporting\":[string],\"entities_used\":[string],\"relations_used\":[string]},\"limitations\":[string]}.",
		state.Question, state.Conclusion, state.ConclusionConfidence, topN(entities, 10), topN(relations, 10), len(state.Hypotheses))

	resp, err := s.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You write the final answer for a memory-retrieval agent, grounded strictly in the given facts."},
			{Role: "user", Content: prompt},
		},
		Temperature: llm.Temp(0.2),
	})

	fallback := Summary{
		Question:   state.Question,
		Answer:     fallbackAnswer(state),
		Confidence: state.ConclusionConfidence,
		AnswerType: AnswerUncertain,
	}
	if err != nil {
		return fallback
	}

	var parsed summaryResponse
	if !extractJSON(resp.Content, &parsed) {
		return fallback
	}

	answer := parsed.Summary.Answer
	if answer == "" {
		answer = fallbackAnswer(state)
	}
	confidence := parsed.Summary.Confidence
	if confidence == 0 {
		confidence = state.ConclusionConfidence
	}
	answerType := AnswerType(parsed.Summary.AnswerType)
	switch answerType {
	case AnswerDirect, AnswerInferred, AnswerUncertain:
	default:
		answerType = AnswerUncertain
	}

	return Summary{
		Question:       state.Question,
		Answer:         answer,
		Confidence:     confidence,
		AnswerType:     answerType,
		ReasoningChain: parsed.ReasoningChain,
		Evidence:       parsed.Evidence,
		Limitations:    parsed.Limitations,
	}
}

func fallbackAnswer(state *reasoning.ReasoningState) string {
	if state.HasConclusion {
		return state.Conclusion
	}
	return "unable to determine"
}

func (s *Summarizer) generateContextText(ctx context.Context, state *reasoning.ReasoningState, entities, relations map[string]map[string]any) string {
	prompt := fmt.Sprintf(
		"Question: %s\nConclusion: %s\nEntities: %v\nRelations: %v\n\n"+
			"Write a 500-1000 word prose paragraph condensing these facts for a downstream assistant to consume as context. Plain prose, no JSON.",
		state.Question, state.Conclusion, topN(entities, 10), topN(relations, 10))

	resp, err := s.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You write condensed context paragraphs summarizing retrieved memories for another LLM to consume."},
			{Role: "user", Content: prompt},
		},
		Temperature: llm.Temp(0.3),
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		return QuickSummary(state)
	}
	return strings.TrimSpace(resp.Content)
}

func topN(table map[string]map[string]any, n int) []map[string]any {
	ids := idsOf(table)
	if len(ids) > n {
		ids = ids[:n]
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, table[id])
	}
	return out
}

// QuickSummary is the LLM-free fallback digest, used as the context text
// when the context-text LLM call fails or returns nothing.
func QuickSummary(state *reasoning.ReasoningState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Question:** %s\n\n", state.Question)
	if state.HasConclusion {
		fmt.Fprintf(&b, "**Answer:** %s (%.0f%% confidence)\n\n", state.Conclusion, state.ConclusionConfidence*100)
	} else {
		b.WriteString("**Answer:** unable to determine\n\n")
	}

	entityIDs := idsOf(state.EntityFacts)
	if len(entityIDs) > 0 {
		b.WriteString("**Entities:**\n")
		for i, id := range entityIDs {
			if i >= 5 {
				break
			}
			bag := state.EntityFacts[id]
			name, _ := bag["name"].(string)
			content, _ := bag["content"].(string)
			fmt.Fprintf(&b, "- %s: %s\n", name, truncate(content, 100))
		}
		b.WriteString("\n")
	}

	relationIDs := idsOf(state.RelationFacts)
	if len(relationIDs) > 0 {
		b.WriteString("**Relations:**\n")
		for i, id := range relationIDs {
			if i >= 5 {
				break
			}
			bag := state.RelationFacts[id]
			from, _ := bag["from_entity_id"].(string)
			to, _ := bag["to_entity_id"].(string)
			content, _ := bag["content"].(string)
			fmt.Fprintf(&b, "- %s -> %s: %s\n", from, to, truncate(content, 80))
		}
	}

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
