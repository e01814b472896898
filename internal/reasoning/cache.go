package reasoning

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cache is the sole source of truth for a query's reasoning state. It is
// owned exclusively by the orchestrator for the duration of one query and
// is never shared across queries or mutated concurrently.
type Cache struct {
	state *ReasoningState

	goalCounter       int
	hypothesisCounter int

	now func() time.Time
}

// New constructs an uninitialized Cache. Call Init before any mutation.
func New() *Cache {
	return &Cache{now: time.Now}
}

// NewWithClock is New with an injectable clock, for deterministic tests.
func NewWithClock(now func() time.Time) *Cache {
	return &Cache{now: now}
}

// Init resets counters and creates a fresh state for a new question.
func (c *Cache) Init(question string, qt QuestionType) {
	c.goalCounter = 0
	c.hypothesisCounter = 0
	c.state = newState(question, qt, c.now())
}

// State returns the current state, or nil if uninitialized.
func (c *Cache) State() *ReasoningState {
	return c.state
}

func (c *Cache) touch() {
	if c.state != nil {
		c.state.UpdatedAt = c.now()
	}
}

// AddSubGoal appends a new sub-goal. It fails if any dependency id is
// unknown, or if adding the goal would create a cycle in the dependency
// DAG. Calling this on an uninitialized cache raises (returns an error),
// per the allocator-raises rule.
func (c *Cache) AddSubGoal(description string, dependsOn []string) (*SubGoal, error) {
	if c.state == nil {
		return nil, fmt.Errorf("reasoning: cache not initialized")
	}
	known := map[string]bool{}
	for _, g := range c.state.SubGoals {
		known[g.GoalID] = true
	}
	for _, dep := range dependsOn {
		if !known[dep] {
			return nil, fmt.Errorf("reasoning: unknown sub-goal dependency %q", dep)
		}
	}

	c.goalCounter++
	goal := &SubGoal{
		GoalID:      fmt.Sprintf("goal_%d", c.goalCounter),
		Description: description,
		Status:      GoalPending,
		DependsOn:   append([]string(nil), dependsOn...),
	}

	// Cycle check: a DAG stays acyclic if the new node's dependencies are
	// all existing nodes (never itself) — true here since goal.GoalID is
	// freshly minted and cannot appear in dependsOn. Still validate
	// defensively in case a future caller reuses ids.
	if containsCycle(append(c.state.SubGoals, goal)) {
		c.goalCounter--
		return nil, fmt.Errorf("reasoning: adding sub-goal %q would create a dependency cycle", description)
	}

	c.state.SubGoals = append(c.state.SubGoals, goal)
	c.touch()
	return goal, nil
}

func containsCycle(goals []*SubGoal) bool {
	byID := map[string]*SubGoal{}
	for _, g := range goals {
		byID[g.GoalID] = g
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var visit func(id string) bool
	visit = func(id string) bool {
		switch color[id] {
		case gray:
			return true
		case black:
			return false
		}
		color[id] = gray
		g := byID[id]
		if g != nil {
			for _, dep := range g.DependsOn {
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, g := range goals {
		if visit(g.GoalID) {
			return true
		}
	}
	return false
}

// UpdateGoalStatus transitions a goal's status. Terminal statuses
// (completed, failed) cannot be reversed back to pending. No-op if
// uninitialized or the goal id is unknown.
func (c *Cache) UpdateGoalStatus(goalID string, status GoalStatus, result any) {
	if c.state == nil {
		return
	}
	for _, g := range c.state.SubGoals {
		if g.GoalID != goalID {
			continue
		}
		if g.Status.terminal() && status == GoalPending {
			return
		}
		g.Status = status
		if result != nil {
			g.Result = result
		}
		c.touch()
		return
	}
}

// PendingGoals returns goals with status=pending whose dependencies are all
// completed, in insertion order.
func (c *Cache) PendingGoals() []*SubGoal {
	if c.state == nil {
		return nil
	}
	return c.state.readyGoals()
}

// AddKnownFact sets a scratchpad key/value.
func (c *Cache) AddKnownFact(key string, value any) {
	if c.state == nil {
		return
	}
	c.state.KnownFacts[key] = value
	c.touch()
}

// AddEntityFact merges attrs into the attribute bag for entityID, union of
// keys, overwrite per-key — never a wholesale replace.
func (c *Cache) AddEntityFact(entityID string, attrs map[string]any) {
	if c.state == nil {
		return
	}
	mergeBag(c.state.EntityFacts, entityID, attrs)
	c.touch()
}

// AddRelationFact merges attrs into the attribute bag for relationID.
func (c *Cache) AddRelationFact(relationID string, attrs map[string]any) {
	if c.state == nil {
		return
	}
	mergeBag(c.state.RelationFacts, relationID, attrs)
	c.touch()
}

func mergeBag(table map[string]map[string]any, id string, attrs map[string]any) {
	bag, ok := table[id]
	if !ok {
		bag = map[string]any{}
		table[id] = bag
	}
	for k, v := range attrs {
		bag[k] = v
	}
}

// AddHypothesis appends a new hypothesis with the given starting
// confidence (defaulting to 0.5 when confidence < 0, since 0 is a valid
// caller-supplied value). Raises (errors) if uninitialized.
func (c *Cache) AddHypothesis(content string, confidence float64) (*Hypothesis, error) {
	if c.state == nil {
		return nil, fmt.Errorf("reasoning: cache not initialized")
	}
	if confidence < 0 {
		confidence = 0.5
	}
	c.hypothesisCounter++
	h := &Hypothesis{
		HypothesisID: fmt.Sprintf("hyp_%d", c.hypothesisCounter),
		Content:      content,
		Confidence:   clamp01(confidence),
	}
	c.state.Hypotheses = append(c.state.Hypotheses, h)
	c.touch()
	return h, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// UpdateHypothesis appends evidence/counter-evidence, applies a confidence
// delta (clamped to [0,1]), and optionally sets verified. Once verified is
// non-nil, further calls may still append evidence but must not revert
// verified back to nil.
func (c *Cache) UpdateHypothesis(id string, evidence, counterEvidence []string, confidenceDelta float64, verified *bool) {
	if c.state == nil {
		return
	}
	for _, h := range c.state.Hypotheses {
		if h.HypothesisID != id {
			continue
		}
		h.Evidence = append(h.Evidence, evidence...)
		h.CounterEvidence = append(h.CounterEvidence, counterEvidence...)
		h.Confidence = clamp01(h.Confidence + confidenceDelta)
		if verified != nil {
			h.Verified = verified
		}
		c.touch()
		return
	}
}

// AddMissingInfo inserts s into the missing-info set (no-op if already
// present), preserving insertion order.
func (c *Cache) AddMissingInfo(s string) {
	if c.state == nil {
		return
	}
	if c.state.missingInfoSet == nil {
		c.state.missingInfoSet = map[string]struct{}{}
	}
	if _, ok := c.state.missingInfoSet[s]; ok {
		return
	}
	c.state.missingInfoSet[s] = struct{}{}
	c.state.MissingInfo = append(c.state.MissingInfo, s)
	c.touch()
}

// RemoveMissingInfo removes s from the missing-info set, if present.
func (c *Cache) RemoveMissingInfo(s string) {
	if c.state == nil {
		return
	}
	if _, ok := c.state.missingInfoSet[s]; !ok {
		return
	}
	delete(c.state.missingInfoSet, s)
	c.state.MissingInfo = removeString(c.state.MissingInfo, s)
	c.touch()
}

// AddFailedStrategy inserts s into the failed-strategies set.
func (c *Cache) AddFailedStrategy(s string) {
	if c.state == nil {
		return
	}
	if c.state.failedSet == nil {
		c.state.failedSet = map[string]struct{}{}
	}
	if _, ok := c.state.failedSet[s]; ok {
		return
	}
	c.state.failedSet[s] = struct{}{}
	c.state.FailedStrategies = append(c.state.FailedStrategies, s)
	c.touch()
}

func removeString(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

// RecordQuery appends a TriedQuery entry.
func (c *Cache) RecordQuery(toolName string, params map[string]any, iteration int, success bool, summary string) {
	if c.state == nil {
		return
	}
	c.state.TriedQueries = append(c.state.TriedQueries, TriedQuery{
		ToolName:      toolName,
		Parameters:    params,
		Iteration:     iteration,
		Success:       success,
		ResultSummary: summary,
	})
	c.touch()
}

// HasTriedQuery reports whether an earlier recorded query subset-matches
// (tool_name, params): see TriedQuery.Matches.
func (c *Cache) HasTriedQuery(toolName string, params map[string]any) bool {
	if c.state == nil {
		return false
	}
	for _, tq := range c.state.TriedQueries {
		if tq.Matches(toolName, params) {
			return true
		}
	}
	return false
}

// SetConclusion records the final answer and confidence. Callers are
// responsible for also recording a supporting reasoning_step_*/evidence_*
// known fact, per the conclusion-requires-evidence invariant.
func (c *Cache) SetConclusion(text string, confidence float64) {
	if c.state == nil {
		return
	}
	c.state.Conclusion = text
	c.state.ConclusionConfidence = clamp01(confidence)
	c.state.HasConclusion = true
	c.touch()
}

// SetQuestionType rewrites the question type in place, preserving every
// other field — used by the mid-flight type-adjustment policy.
func (c *Cache) SetQuestionType(qt QuestionType) {
	if c.state == nil {
		return
	}
	c.state.QuestionType = qt
	c.touch()
}

// IsComplete delegates to ReasoningState.IsComplete.
func (c *Cache) IsComplete() bool {
	if c.state == nil {
		return false
	}
	return c.state.IsComplete()
}

// Progress returns a numeric telemetry summary.
func (c *Cache) Progress() Progress {
	if c.state == nil {
		return Progress{}
	}
	completed := 0
	for _, g := range c.state.SubGoals {
		if g.Status == GoalCompleted {
			completed++
		}
	}
	open := 0
	for _, h := range c.state.Hypotheses {
		if h.Verified == nil {
			open++
		}
	}
	return Progress{
		TotalSubGoals:     len(c.state.SubGoals),
		CompletedSubGoals: completed,
		OpenHypotheses:    open,
		MissingInfoCount:  len(c.state.MissingInfo),
		QueriesTried:      len(c.state.TriedQueries),
		HasConclusion:     c.state.HasConclusion,
		Confidence:        c.state.ConclusionConfidence,
	}
}

var goalIcon = map[GoalStatus]string{
	GoalPending:    "⏳",
	GoalInProgress: "🔄",
	GoalCompleted:  "✅",
	GoalFailed:     "❌",
}

// StateSummary renders a compact digest of working memory: sub-goal
// statuses, a trimmed known-facts sample, open hypotheses with confidence,
// missing info, recent failed strategies, and a query count. This is the
// only view of working memory the planner ever sees.
func (c *Cache) StateSummary() string {
	if c.state == nil {
		return "(no reasoning state)"
	}
	s := c.state
	var b strings.Builder

	fmt.Fprintf(&b, "Question type: %s\n", s.QuestionType)

	if len(s.SubGoals) > 0 {
		b.WriteString("Sub-goals:\n")
		for _, g := range s.SubGoals {
			fmt.Fprintf(&b, "  %s %s (%s)", goalIcon[g.Status], g.Description, g.Status)
			if len(g.DependsOn) > 0 {
				fmt.Fprintf(&b, " [depends_on: %s]", strings.Join(g.DependsOn, ","))
			}
			b.WriteString("\n")
		}
	}

	if len(s.KnownFacts) > 0 {
		keys := make([]string, 0, len(s.KnownFacts))
		for k := range s.KnownFacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Known facts:\n")
		limit := 10
		for i, k := range keys {
			if i >= limit {
				fmt.Fprintf(&b, "  ... and %d more\n", len(keys)-limit)
				break
			}
			fmt.Fprintf(&b, "  %s: %v\n", k, truncate(fmt.Sprint(s.KnownFacts[k]), 160))
		}
	}

	if len(s.Hypotheses) > 0 {
		b.WriteString("Hypotheses:\n")
		for _, h := range s.Hypotheses {
			mark := "?"
			if h.Verified != nil {
				if *h.Verified {
					mark = "✓"
				} else {
					mark = "✗"
				}
			}
			fmt.Fprintf(&b, "  [%s] %s (confidence %.0f%%)\n", mark, h.Content, h.Confidence*100)
		}
	}

	if len(s.MissingInfo) > 0 {
		fmt.Fprintf(&b, "Missing info: %s\n", strings.Join(s.MissingInfo, "; "))
	}

	if len(s.FailedStrategies) > 0 {
		recent := s.FailedStrategies
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		fmt.Fprintf(&b, "Failed strategies: %s\n", strings.Join(recent, "; "))
	}

	fmt.Fprintf(&b, "Queries tried: %d\n", len(s.TriedQueries))

	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
