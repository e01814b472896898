package agent_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/agent"
	"github.com/ngyygm/temporal-memory-agent/internal/store/fake"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

func TestAgent(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Agent Suite")
}

func seededStore() *fake.Store {
	s := fake.New()
	s.AddEntity(tools.Entity{EntityID: "e1", Name: "Alice", Content: "Alice is a software engineer."})
	s.AddEntity(tools.Entity{EntityID: "e2", Name: "Bob", Content: "Bob leads the backend team."})
	s.AddRelation(tools.Relation{
		RelationID:   "rel1",
		FromEntityID: "e1",
		ToEntityID:   "e2",
		Label:        "reports_to",
		Content:      "Alice reports to Bob",
		PhysicalTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	return s
}

func newOrchestrator(client llm.Client, store tools.Store, cfg agent.Config) *agent.Orchestrator {
	registry := tools.NewStoreRegistry(store)
	return agent.New(client, []*tools.Registry{registry}, cfg)
}

var _ = Describe("Orchestrator", func() {
	It("answers a direct lookup in a single iteration with reasoning disabled", func() {
		client := &llm.FakeClient{Responses: []string{
			`{"analysis":"look up Alice","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			`{"is_sufficient":true,"reasoning":"found Alice","memories_to_keep":[],"next_action":""}`,
			`{"summary":{"question":"Who is Alice?","answer":"Alice is a software engineer.","confidence":0.9,"answer_type":"direct"},"reasoning_chain":["found Alice via search_entity"],"evidence":{"supporting":[],"entities_used":["e1"],"relations_used":[]},"limitations":[]}`,
			`Alice is a software engineer introduced early in the conversation.`,
		}}
		o := newOrchestrator(client, seededStore(), agent.Config{EnableReasoning: false, EnableSummary: true})

		result := o.Query(context.Background(), "Who is Alice?")

		Expect(result.TotalIterations).To(Equal(1))
		Expect(result.TotalToolCalls).To(Equal(1))
		Expect(result.GetAnswer()).To(Equal("Alice is a software engineer."))
		Expect(result.RetrievedMemories).To(HaveLen(1))
		Expect(result.RetrievedMemories[0].SourceID).To(Equal("e1"))
	})

	It("concludes a two-hop reasoning question over two iterations", func() {
		client := &llm.FakeClient{Responses: []string{
			// Analyze
			`{"question_type":"reasoning","sub_goals":["find Alice","find her manager"],"missing_info":[],"hypotheses":[]}`,
			// Plan (iteration 1)
			`{"analysis":"search for Alice first","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			// TryConclude (iteration 1) - not enough yet
			`{"can_conclude":false,"conclusion":"","confidence":0,"reasoning_steps":[],"evidence":[],"missing_info":["need Alice's manager"],"failed_strategy":""}`,
			// Evaluate (iteration 1, reasoning path)
			`{"is_sufficient":false,"reasoning":"need the reporting relation","memories_to_keep":[],"next_action":"find_relations","reasoning_feasibility":{"can_reason":false},"question_type_adjustment":{"should_adjust":false,"new_type":"","reason":""}}`,
			// Plan (iteration 2)
			`{"analysis":"now find her relations","tool_calls":[{"tool_name":"find_relations","parameters":{"entity_id":"e1"}}],"is_complete":false}`,
			// TryConclude (iteration 2) - concludes
			`{"can_conclude":true,"conclusion":"Alice reports to Bob.","confidence":0.85,"reasoning_steps":["Found Alice","Found her reporting relation to Bob"],"evidence":["rel1"],"missing_info":[],"failed_strategy":""}`,
			// Summarizer.filterRelevant
			`{"relevant_entities":["e1"],"relevant_relations":["rel1"]}`,
			// Summarizer.generateSummary
			`{"summary":{"question":"Who does Alice report to?","answer":"Alice reports to Bob.","confidence":0.85,"answer_type":"inferred"},"reasoning_chain":["Found Alice","Found her reporting relation to Bob"],"evidence":{"supporting":["rel1"],"entities_used":["e1"],"relations_used":["rel1"]},"limitations":[]}`,
			// Summarizer.generateContextText
			`Alice, a software engineer, reports to Bob, who leads the backend team.`,
		}}
		o := newOrchestrator(client, seededStore(), agent.Config{EnableReasoning: true, EnableSummary: true})

		result := o.Query(context.Background(), "Who does Alice report to?")

		Expect(result.TotalIterations).To(Equal(2))
		Expect(result.GetAnswer()).To(Equal("Alice reports to Bob."))
		Expect(result.GetConfidence()).To(BeNumerically("~", 0.85))

		var concluded bool
		for _, step := range result.ReasoningTrace {
			if step.Type == "conclude" {
				concluded = true
			}
		}
		Expect(concluded).To(BeTrue())
	})

	It("marks a tool call as timed out without stalling the loop", func() {
		store := seededStore()
		store.Sleep = 100 * time.Millisecond

		client := &llm.FakeClient{Responses: []string{
			`{"analysis":"look up Alice","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			`{"is_sufficient":true,"reasoning":"nothing more to learn","memories_to_keep":[],"next_action":""}`,
			`{"summary":{"question":"Who is Alice?","answer":"unable to determine","confidence":0,"answer_type":"uncertain"},"reasoning_chain":[],"evidence":{"supporting":[],"entities_used":[],"relations_used":[]},"limitations":["search_entity timed out"]}`,
			`No information could be retrieved before the tool call timed out.`,
		}}
		o := newOrchestrator(client, store, agent.Config{
			EnableReasoning: false,
			EnableSummary:   true,
			ToolTimeout:     10 * time.Millisecond,
		})

		start := time.Now()
		result := o.Query(context.Background(), "Who is Alice?")

		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
		Expect(result.TotalToolCalls).To(Equal(1))
		Expect(result.RetrievedMemories).To(BeEmpty()) // timed-out call never merges
	})

	It("stops at the iteration cap when the planner never completes", func() {
		neverComplete := `{"analysis":"still looking","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`
		neverSufficient := `{"is_sufficient":false,"reasoning":"keep looking","memories_to_keep":[],"next_action":"search_entity"}`

		responses := make([]string, 0, 10)
		for i := 0; i < 3; i++ {
			responses = append(responses, neverComplete, neverSufficient)
		}
		responses = append(responses,
			`{"summary":{"question":"Who is Alice?","answer":"unable to determine","confidence":0,"answer_type":"uncertain"},"reasoning_chain":[],"evidence":{"supporting":[],"entities_used":[],"relations_used":[]},"limitations":["iteration cap reached"]}`,
			`No conclusive answer was reached within the allotted iterations.`,
		)
		client := &llm.FakeClient{Responses: responses}
		o := newOrchestrator(client, seededStore(), agent.Config{
			EnableReasoning: false,
			EnableSummary:   true,
			MaxIterations:   3,
		})

		result := o.Query(context.Background(), "Who is Alice?")

		Expect(result.TotalIterations).To(Equal(3))
	})

	It("retypes a misclassified temporal-ordinal question mid-flight and seeds a time-ordering sub-goal", func() {
		store := seededStore()
		store.SetVersionHistory("e1", []tools.Entity{
			{EntityID: "e1", Name: "Alice", Content: "Alice joined as an intern.", PhysicalTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{EntityID: "e1", Name: "Alice", Content: "Alice is a software engineer.", PhysicalTime: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		})

		client := &llm.FakeClient{Responses: []string{
			// Reasoner.Analyze - misclassified as plain reasoning
			`{"question_type":"reasoning","sub_goals":["find Alice"],"missing_info":[],"hypotheses":[]}`,
			// Plan (iteration 1)
			`{"analysis":"search for Alice first","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			// TryConclude (iteration 1) - not enough yet
			`{"can_conclude":false,"conclusion":"","confidence":0,"reasoning_steps":[],"evidence":[],"missing_info":[],"failed_strategy":""}`,
			// Evaluate (iteration 1) - retypes into temporal_reasoning
			`{"is_sufficient":false,"reasoning":"this asks about an ordinal occurrence, not a relation","memories_to_keep":[],"next_action":"get_version_history","reasoning_feasibility":{"can_reason":false},"question_type_adjustment":{"should_adjust":true,"new_type":"temporal_reasoning","reason":"ordinal temporal question misclassified as reasoning"}}`,
			// Plan (iteration 2) - now pulls version history
			`{"analysis":"order Alice's recorded states by time","tool_calls":[{"tool_name":"get_version_history","parameters":{"entity_id":"e1"}}],"is_complete":false}`,
			// TryConclude (iteration 2) - concludes
			`{"can_conclude":true,"conclusion":"Alice was an intern on her first recorded appearance.","confidence":0.8,"reasoning_steps":["Ordered Alice's versions by physical_time"],"evidence":["e1"],"missing_info":[],"failed_strategy":""}`,
			// Summarizer.filterRelevant
			`{"relevant_entities":["e1"],"relevant_relations":[]}`,
			// Summarizer.generateSummary
			`{"summary":{"question":"第几次见到 Alice 时发生了什么？","answer":"Alice was an intern on her first recorded appearance.","confidence":0.8,"answer_type":"inferred"},"reasoning_chain":["Ordered Alice's versions by physical_time"],"evidence":{"supporting":["e1"],"entities_used":["e1"],"relations_used":[]},"limitations":[]}`,
			// Summarizer.generateContextText
			`Alice's earliest recorded state shows her as an intern, before later becoming a software engineer.`,
		}}
		o := newOrchestrator(client, store, agent.Config{EnableReasoning: true, EnableSummary: true})

		result := o.Query(context.Background(), "第几次见到 Alice 时发生了什么？")

		Expect(result.TotalIterations).To(Equal(2))
		Expect(result.GetAnswer()).To(Equal("Alice was an intern on her first recorded appearance."))

		// The second Plan() call must see the retyped state: question_type
		// switched to temporal_reasoning and a time-ordering sub-goal seeded.
		Expect(client.Requests).To(HaveLen(9))
		secondPlanRequest := client.Requests[4].Messages[1].Content
		Expect(secondPlanRequest).To(ContainSubstring("temporal_reasoning"))
		Expect(secondPlanRequest).To(ContainSubstring("order relevant events by time"))

		var sawAdjustedEval bool
		for _, step := range result.ReasoningTrace {
			if step.Type != "evaluate" {
				continue
			}
			if eval, ok := step.Data.(agent.Evaluation); ok && eval.QuestionTypeAdjustment != nil && eval.QuestionTypeAdjustment.ShouldAdjust {
				sawAdjustedEval = true
			}
		}
		Expect(sawAdjustedEval).To(BeTrue())
	})

	It("surfaces a previously tried query to the planner instead of silently repeating it", func() {
		client := &llm.FakeClient{Responses: []string{
			// Reasoner.Analyze
			`{"question_type":"direct","sub_goals":[],"missing_info":[],"hypotheses":[]}`,
			// Plan (iteration 1)
			`{"analysis":"search for Alice","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			// TryConclude (iteration 1) - not enough yet
			`{"can_conclude":false,"conclusion":"","confidence":0,"reasoning_steps":[],"evidence":[],"missing_info":[],"failed_strategy":""}`,
			// Evaluate (iteration 1)
			`{"is_sufficient":false,"reasoning":"need the reporting relation too","memories_to_keep":[],"next_action":"find_relations","reasoning_feasibility":{"can_reason":false},"question_type_adjustment":{"should_adjust":false,"new_type":"","reason":""}}`,
			// Plan (iteration 2) - honors the already-tried search_entity call
			// instead of repeating its exact tuple.
			`{"analysis":"search_entity for Alice was already tried; fetch her relations instead","tool_calls":[{"tool_name":"find_relations","parameters":{"entity_id":"e1"}}],"is_complete":false}`,
			// TryConclude (iteration 2) - concludes
			`{"can_conclude":true,"conclusion":"Alice reports to Bob.","confidence":0.8,"reasoning_steps":["Found Alice","Found her reporting relation"],"evidence":["rel1"],"missing_info":[],"failed_strategy":""}`,
			// Summarizer.filterRelevant
			`{"relevant_entities":["e1"],"relevant_relations":["rel1"]}`,
			// Summarizer.generateSummary
			`{"summary":{"question":"Who does Alice report to?","answer":"Alice reports to Bob.","confidence":0.8,"answer_type":"inferred"},"reasoning_chain":["Found Alice","Found her reporting relation"],"evidence":{"supporting":["rel1"],"entities_used":["e1"],"relations_used":["rel1"]},"limitations":[]}`,
			// Summarizer.generateContextText
			`Alice, a software engineer, reports to Bob.`,
		}}
		o := newOrchestrator(client, seededStore(), agent.Config{EnableReasoning: true, EnableSummary: true})

		result := o.Query(context.Background(), "Who does Alice report to?")

		Expect(result.TotalIterations).To(Equal(2))

		// The reasoning state handed to the second Plan() call must mention
		// both the prior tried query and its tally, so the planner can see
		// search_entity(Alice) was already attempted.
		Expect(client.Requests).To(HaveLen(9))
		secondPlanRequest := client.Requests[4].Messages[1].Content
		Expect(secondPlanRequest).To(ContainSubstring("search_entity"))
		Expect(secondPlanRequest).To(ContainSubstring("Queries tried: 1"))

		var secondPlanToolNames []string
		planCount := 0
		for _, step := range result.ReasoningTrace {
			if step.Type != "plan" {
				continue
			}
			planCount++
			if planCount != 2 {
				continue
			}
			if plan, ok := step.Data.(agent.Plan); ok {
				for _, tc := range plan.ToolCalls {
					secondPlanToolNames = append(secondPlanToolNames, tc.ToolName)
				}
			}
		}
		Expect(secondPlanToolNames).To(Equal([]string{"find_relations"}))
	})
})
