package agent

import (
	"context"
	"fmt"

	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/reasoning"
)

// QuestionTypeAdjustment is the Evaluator's mid-flight request to change
// question_type. Applying it is the Orchestrator's responsibility.
type QuestionTypeAdjustment struct {
	ShouldAdjust bool   `json:"should_adjust"`
	NewType      string `json:"new_type"`
	Reason       string `json:"reason"`
}

// Evaluation is the Evaluator's structured verdict.
type Evaluation struct {
	IsSufficient           bool                    `json:"is_sufficient"`
	Reasoning              string                  `json:"reasoning"`
	MemoriesToKeep         []string                `json:"memories_to_keep"`
	NextAction             string                  `json:"next_action"`
	QuestionTypeAdjustment *QuestionTypeAdjustment `json:"question_type_adjustment"`
}

// Evaluator decides whether the loop may stop without a Reasoner
// conclusion, and may request a mid-flight question_type change.
type Evaluator struct {
	llm llm.Client
}

func NewEvaluator(client llm.Client) *Evaluator {
	return &Evaluator{llm: client}
}

var sufficiencyKeywordsSimple = []string{"足够", "充足", "sufficient", "可以回答", "enough"}
var sufficiencyKeywordsReasoning = []string{"足够", "充足", "sufficient", "可以推理", "can_reason"}

// Evaluate routes to the reasoning-aware prompt whenever state is present
// and its question type is not direct; otherwise it uses the simple prompt.
func (e *Evaluator) Evaluate(ctx context.Context, question string, collectedInfo []string, iteration int, state *reasoning.ReasoningState) (Evaluation, error) {
	if state != nil && state.QuestionType != reasoning.Direct {
		return e.evaluateReasoning(ctx, question, collectedInfo, iteration, state)
	}
	return e.evaluateSimple(ctx, question, collectedInfo, iteration)
}

func (e *Evaluator) evaluateSimple(ctx context.Context, question string, collectedInfo []string, iteration int) (Evaluation, error) {
	prompt := fmt.Sprintf("Question: %s\nIteration: %d\nCollected info: %v\n\nIs this sufficient to answer? Respond as JSON: {\"is_sufficient\":bool,\"reasoning\":string,\"memories_to_keep\":[string],\"next_action\":string}.", question, iteration, collectedInfo)
	resp, err := e.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You evaluate whether a memory-retrieval agent has enough information to answer a direct factual question."},
			{Role: "user", Content: prompt},
		},
		Temperature: llm.Temp(0.1),
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluator: chat: %w", err)
	}

	var eval Evaluation
	if !extractJSON(resp.Content, &eval) {
		return Evaluation{
			IsSufficient: containsAny(resp.Content, sufficiencyKeywordsSimple),
			Reasoning:    resp.Content,
		}, nil
	}
	return eval, nil
}

type reasoningEvalResponse struct {
	IsSufficient      bool     `json:"is_sufficient"`
	Reasoning         string   `json:"reasoning"`
	MemoriesToKeep    []string `json:"memories_to_keep"`
	NextAction        string   `json:"next_action"`
	ReasoningFeasible struct {
		CanReason bool `json:"can_reason"`
	} `json:"reasoning_feasibility"`
	QuestionTypeAdjustment *QuestionTypeAdjustment `json:"question_type_adjustment"`
}

func (e *Evaluator) evaluateReasoning(ctx context.Context, question string, collectedInfo []string, iteration int, state *reasoning.ReasoningState) (Evaluation, error) {
	prompt := fmt.Sprintf(
		"Question: %s\nIteration: %d\nCollected info: %v\n\nReasoning state:\n%s\n\n"+
			"Decide if reasoning can conclude now, and whether the question_type should be adjusted. "+
			"Respond as JSON: {\"is_sufficient\":bool,\"reasoning\":string,\"memories_to_keep\":[string],\"next_action\":string,"+
			"\"reasoning_feasibility\":{\"can_reason\":bool},"+
			"\"question_type_adjustment\":{\"should_adjust\":bool,\"new_type\":string,\"reason\":string}}.",
		question, iteration, collectedInfo, renderStateForEvaluator(state))

	resp, err := e.llm.Chat(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: "You evaluate a multi-step reasoning agent's progress over a temporal knowledge graph."},
			{Role: "user", Content: prompt},
		},
		Temperature: llm.Temp(0.1),
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluator: chat: %w", err)
	}

	var parsed reasoningEvalResponse
	if !extractJSON(resp.Content, &parsed) {
		return Evaluation{
			IsSufficient: containsAny(resp.Content, sufficiencyKeywordsReasoning),
			Reasoning:    resp.Content,
		}, nil
	}

	return Evaluation{
		IsSufficient:           parsed.IsSufficient || parsed.ReasoningFeasible.CanReason,
		Reasoning:              parsed.Reasoning,
		MemoriesToKeep:         parsed.MemoriesToKeep,
		NextAction:             parsed.NextAction,
		QuestionTypeAdjustment: parsed.QuestionTypeAdjustment,
	}, nil
}

func renderStateForEvaluator(state *reasoning.ReasoningState) string {
	if state == nil {
		return ""
	}
	var sub []string
	for _, g := range state.SubGoals {
		sub = append(sub, fmt.Sprintf("%s (%s)", g.Description, g.Status))
	}
	var hyp []string
	for _, h := range state.Hypotheses {
		hyp = append(hyp, fmt.Sprintf("%s (confidence %.2f)", h.Content, h.Confidence))
	}
	return fmt.Sprintf("sub_goals: %v\nknown_facts: %d entries\nmissing_info: %v\nhypotheses: %v",
		sub, len(state.KnownFacts), state.MissingInfo, hyp)
}

// QuickCheck is the no-LLM fast path: empty memories -> continue; the last
// result carrying entities/relations -> continue; a successful zero-hit
// result -> continue (try another angle).
func QuickCheck(collected []map[string]any) bool {
	if len(collected) == 0 {
		return true
	}
	last := collected[len(collected)-1]
	if _, ok := last["entities"]; ok {
		return true
	}
	if _, ok := last["relations"]; ok {
		return true
	}
	if success, ok := last["success"].(bool); ok && success {
		if n, ok := last["count"].(int); ok && n == 0 {
			return true
		}
	}
	return false
}
