package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ngyygm/temporal-memory-agent/common/id"
	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/reasoning"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

// nonRelevantScore is the RelevanceScore assigned to a retrieved memory
// the Summarizer's filter step actually considered and excluded. Memories
// never put through real filtering (reasoning disabled, or the LLM call
// fell back to the all-facts passthrough) keep the merge-time default of
// 1.0 instead.
const nonRelevantScore = 0.3

// Config controls the orchestrator's loop tunables.
type Config struct {
	MaxIterations   int
	ParallelTools   bool
	ToolTimeout     time.Duration
	WorkerCap       int
	EnableReasoning bool
	EnableSummary   bool

	// WrapExecutor, if set, decorates each store's Executor before use —
	// internal/cache.NewCachingExecutor is the production choice when
	// Redis caching is enabled. Nil means no decoration.
	WrapExecutor func(*tools.Executor) tools.ToolExecutor
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = 30 * time.Second
	}
	if c.WorkerCap <= 0 {
		c.WorkerCap = 5
	}
	return c
}

// Orchestrator drives the ReAct loop: analyze -> {plan -> execute ->
// integrate -> conclude -> evaluate} -> summarize. It owns the
// ReasoningCache for the duration of one query and is not safe for
// concurrent use by multiple queries.
type Orchestrator struct {
	cfg        Config
	executors  []tools.ToolExecutor // one per backing store
	registries []*tools.Registry

	planner    *Planner
	reasoner   *Reasoner
	evaluator  *Evaluator
	summarizer *Summarizer
	cache      *reasoning.Cache
}

// New builds an Orchestrator fanning out over one Executor per store
// registry, all driven by the same LLM client.
func New(client llm.Client, registries []*tools.Registry, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()

	executors := make([]tools.ToolExecutor, len(registries))
	for i, r := range registries {
		exec := tools.NewExecutor(r, cfg.ParallelTools, cfg.WorkerCap, cfg.ToolTimeout)
		if cfg.WrapExecutor != nil {
			executors[i] = cfg.WrapExecutor(exec)
		} else {
			executors[i] = exec
		}
	}

	// Planner tool definitions are taken from the first registry only;
	// in practice every registry implements the same seven-tool
	// vocabulary, so the first registry's definitions are representative.
	var defs []tools.Definition
	if len(registries) > 0 {
		defs = registries[0].GetAllDefinitions()
	}

	cache := reasoning.New()

	return &Orchestrator{
		cfg:        cfg,
		executors:  executors,
		registries: registries,
		planner:    NewPlanner(client, defs),
		reasoner:   NewReasoner(client, cache),
		evaluator:  NewEvaluator(client),
		summarizer: NewSummarizer(client),
		cache:      cache,
	}
}

// ExtractQuestion returns the latest user turn from either a plain string
// or a conversation array; conversation entries are {role, content} maps.
func ExtractQuestion(input any) string {
	if s, ok := input.(string); ok {
		return s
	}
	if msgs, ok := input.([]map[string]string); ok {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i]["role"] == "user" {
				return msgs[i]["content"]
			}
		}
	}
	return ""
}

// Query runs the full ReAct loop for one question and always returns a
// QueryResult, even on internal failure (a partial result with an error
// trace entry).
func (o *Orchestrator) Query(ctx context.Context, input any) (result QueryResult) {
	start := time.Now()
	question := ExtractQuestion(input)

	result.QueryID = fmt.Sprintf("%d", id.New())

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "orchestrator: recovered from panic", "error", r)
			result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{
				Type:      "error",
				Content:   fmt.Sprintf("internal error: %v", r),
				Timestamp: time.Now(),
			})
		}
		result.ExecutionTime = time.Since(start).Seconds()
	}()

	if o.cfg.EnableReasoning {
		if _, err := o.reasoner.Analyze(ctx, question); err != nil {
			result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{Type: "error", Content: err.Error(), Timestamp: time.Now()})
		}
	} else {
		o.cache.Init(question, reasoning.Direct)
	}

	contextMgr := NewContextManager()
	var rawOutcomes []map[string]any
	seenMemory := map[string]int{} // source_id -> index into result.RetrievedMemories

	iterationsRun := 0
	for iterationsRun < o.cfg.MaxIterations {
		iteration := iterationsRun + 1
		iterationsRun = iteration

		var stateSummary string
		if o.cfg.EnableReasoning {
			stateSummary = o.cache.StateSummary()
		}

		plan, err := o.planner.Plan(ctx, question, contextMgr.Digest(), stateSummary)
		if err != nil {
			result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{Type: "error", Content: err.Error(), Iteration: iteration, Timestamp: time.Now()})
			break
		}
		if len(o.registries) > 0 {
			plan.ToolCalls = FilterKnownTools(plan.ToolCalls, o.registries[0])
		}
		result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{
			Type: "plan", Content: plan.Analysis, Data: plan, Iteration: iteration, Timestamp: time.Now(),
		})

		if plan.IsComplete || len(plan.ToolCalls) == 0 {
			break
		}

		calls := make([]tools.Call, len(plan.ToolCalls))
		for i, pc := range plan.ToolCalls {
			calls[i] = tools.Call{
				CallID:     fmt.Sprintf("%d", id.New()),
				ToolName:   pc.ToolName,
				Parameters: pc.Parameters,
			}
		}

		for _, executor := range o.executors {
			storeResults := executor.Execute(ctx, calls)
			result.TotalToolCalls += len(storeResults)

			for i, r := range storeResults {
				success := r.Status == tools.StatusSuccess
				if o.cfg.EnableReasoning {
					o.cache.RecordQuery(calls[i].ToolName, calls[i].Parameters, iteration, success, r.ErrorMessage)
				}
				if !success {
					continue
				}
				contextMgr.Add(RenderToolOutcome(r.ToolName, r.Data, time.Now()), sourceIDsOf(r.Data))
				rawOutcomes = append(rawOutcomes, r.Data)
				mergeRetrievedMemories(&result, r.Data, seenMemory)
			}
		}

		if o.cfg.EnableReasoning {
			o.reasoner.IntegrateFacts(rawOutcomes)
			rawOutcomes = nil

			ok, conclusion, confidence, err := o.reasoner.TryConclude(ctx)
			if err != nil {
				result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{Type: "error", Content: err.Error(), Iteration: iteration, Timestamp: time.Now()})
			}
			if ok {
				result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{
					Type: "conclude", Content: conclusion, Data: confidence, Iteration: iteration, Timestamp: time.Now(),
				})
				break
			}
		}

		eval, err := o.evaluator.Evaluate(ctx, question, contextMgr.Digest(), iteration, o.cache.State())
		if err != nil {
			result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{Type: "error", Content: err.Error(), Iteration: iteration, Timestamp: time.Now()})
		} else {
			result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{
				Type: "evaluate", Content: eval.Reasoning, Data: eval, Iteration: iteration, Timestamp: time.Now(),
			})
			o.applyQuestionTypeAdjustment(eval.QuestionTypeAdjustment)
			contextMgr.PruneMemories(eval.MemoriesToKeep)
			if eval.IsSufficient {
				break
			}
		}
	}
	result.TotalIterations = iterationsRun

	if o.cfg.EnableSummary {
		state := o.cache.State()
		if state == nil {
			state = &reasoning.ReasoningState{Question: question}
		}
		summary := o.summarizer.Summarize(ctx, state)
		applyRelevanceScores(&result, summary.RelevantEntityIDs, summary.RelevantRelationIDs)
		result.ReasoningTrace = append(result.ReasoningTrace, TraceStep{
			Type: "summary",
			Data: map[string]any{
				"answer":          summary.Answer,
				"confidence":      summary.Confidence,
				"reasoning_chain": summary.ReasoningChain,
				"context_text":    summary.ContextText,
			},
			Iteration: iterationsRun,
			Timestamp: time.Now(),
		})
	}

	return result
}

// applyQuestionTypeAdjustment implements the evaluator's mid-flight
// question_type adjustment policy: rewrite the type, preserve every other
// field, and seed a time-ordering sub-goal when switching into
// temporal_reasoning if none already mentions time ordering. Invalid
// new_type strings are logged and ignored. Applying the identical
// adjustment twice is a no-op the second time (idempotent): the type is
// already equal and the sub-goal text is already present.
func (o *Orchestrator) applyQuestionTypeAdjustment(adj *QuestionTypeAdjustment) {
	if adj == nil || !adj.ShouldAdjust {
		return
	}
	newType, valid := reasoning.ValidQuestionType(adj.NewType)
	if !valid {
		slog.Warn("evaluator requested invalid question_type adjustment, ignoring", "new_type", adj.NewType)
		return
	}
	state := o.cache.State()
	if state == nil || state.QuestionType == newType {
		return
	}
	o.cache.SetQuestionType(newType)

	if newType == reasoning.TemporalReasoning {
		hasTimeGoal := false
		for _, g := range state.SubGoals {
			if containsAny(g.Description, []string{"time", "顺序", "时间", "order"}) {
				hasTimeGoal = true
				break
			}
		}
		if !hasTimeGoal {
			_, _ = o.cache.AddSubGoal("order relevant events by time", nil)
		}
	}
}

// applyRelevanceScores rewrites RetrievedMemories' RelevanceScore once the
// Summarizer's filter step has actually run. relevantEntityIDs/
// relevantRelationIDs are both nil when filtering was never attempted
// (reasoning disabled, or the LLM fell back to the all-facts passthrough),
// in which case this is a no-op and every memory keeps the merge-time
// default of 1.0.
func applyRelevanceScores(result *QueryResult, relevantEntityIDs, relevantRelationIDs []string) {
	if relevantEntityIDs == nil && relevantRelationIDs == nil {
		return
	}
	relevant := make(map[string]bool, len(relevantEntityIDs)+len(relevantRelationIDs))
	for _, id := range relevantEntityIDs {
		relevant[id] = true
	}
	for _, id := range relevantRelationIDs {
		relevant[id] = true
	}
	for i := range result.RetrievedMemories {
		if relevant[result.RetrievedMemories[i].SourceID] {
			result.RetrievedMemories[i].RelevanceScore = 1.0
		} else {
			result.RetrievedMemories[i].RelevanceScore = nonRelevantScore
		}
	}
}

// sourceIDsOf extracts every entity_id/relation_id a tool result carries,
// for tagging ContextManager digest entries so PruneMemories can key on
// them later. RenderToolOutcome's rendered text drops these IDs, so this
// walks the raw result data in parallel with mergeRetrievedMemories.
func sourceIDsOf(data map[string]any) []string {
	var ids []string
	collect := func(raw any, idKey string) {
		m, ok := raw.(map[string]any)
		if !ok {
			return
		}
		if id, ok := m[idKey].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if data == nil {
		return ids
	}
	if entities, ok := data["entities"].([]any); ok {
		for _, e := range entities {
			collect(e, "entity_id")
		}
	}
	if entity, ok := data["entity"]; ok {
		collect(entity, "entity_id")
	}
	if relations, ok := data["relations"].([]any); ok {
		for _, r := range relations {
			collect(r, "relation_id")
		}
	}
	return ids
}

// mergeRetrievedMemories folds one tool result's entities/relations into
// result.RetrievedMemories, implementing the multi-store merge policy:
// dedup by source_id, first-store-wins content, later stores only filling
// previously-absent metadata fields.
func mergeRetrievedMemories(result *QueryResult, data map[string]any, seen map[string]int) {
	if data == nil {
		return
	}
	if entities, ok := data["entities"].([]any); ok {
		for _, e := range entities {
			mergeOneMemory(result, "entity", e, seen)
		}
	}
	if entity, ok := data["entity"]; ok {
		mergeOneMemory(result, "entity", entity, seen)
	}
	if relations, ok := data["relations"].([]any); ok {
		for _, r := range relations {
			mergeOneMemory(result, "relation", r, seen)
		}
	}
}

func mergeOneMemory(result *QueryResult, kind string, raw any, seen map[string]int) {
	m, ok := raw.(map[string]any)
	if !ok {
		return
	}
	idKey := "entity_id"
	if kind == "relation" {
		idKey = "relation_id"
	}
	id, _ := m[idKey].(string)
	if id == "" {
		return
	}

	if idx, exists := seen[id]; exists {
		existing := &result.RetrievedMemories[idx]
		for k, v := range m {
			if existing.Metadata == nil {
				existing.Metadata = map[string]any{}
			}
			if _, has := existing.Metadata[k]; !has {
				existing.Metadata[k] = v
			}
		}
		if kind == "entity" {
			result.RelevantEntities = append(result.RelevantEntities, m)
		} else {
			result.RelevantRelations = append(result.RelevantRelations, m)
		}
		return
	}

	content, _ := m["content"].(string)
	var physicalTime time.Time
	if t, ok := m["physical_time"].(time.Time); ok {
		physicalTime = t
	}

	memory := RetrievedMemory{
		Type:           kind,
		Content:        content,
		SourceID:       id,
		PhysicalTime:   physicalTime,
		Metadata:       m,
		RelevanceScore: 1.0,
	}
	result.RetrievedMemories = append(result.RetrievedMemories, memory)
	seen[id] = len(result.RetrievedMemories) - 1

	if kind == "entity" {
		result.RelevantEntities = append(result.RelevantEntities, m)
	} else {
		result.RelevantRelations = append(result.RelevantRelations, m)
	}
}
