// Package reasoning holds the per-query working memory the reasoning loop
// reads and writes: sub-goals, hypotheses, fact tables, and the bookkeeping
// needed to avoid repeating queries or losing track of what is still
// missing.
package reasoning

import "time"

// QuestionType classifies how a question should be approached.
type QuestionType string

const (
	Direct            QuestionType = "direct"
	Reasoning         QuestionType = "reasoning"
	TemporalReasoning QuestionType = "temporal_reasoning"
)

func ValidQuestionType(s string) (QuestionType, bool) {
	switch QuestionType(s) {
	case Direct, Reasoning, TemporalReasoning:
		return QuestionType(s), true
	default:
		return "", false
	}
}

// GoalStatus is the lifecycle state of a SubGoal.
type GoalStatus string

const (
	GoalPending    GoalStatus = "pending"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalFailed     GoalStatus = "failed"
)

func (s GoalStatus) terminal() bool {
	return s == GoalCompleted || s == GoalFailed
}

// SubGoal is an atomic, decomposable unit of a question, with DAG
// dependencies on other sub-goals.
type SubGoal struct {
	GoalID      string     `json:"goal_id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	Result      any        `json:"result,omitempty"`
	DependsOn   []string   `json:"depends_on"`
}

// Hypothesis is a candidate partial answer with tracked evidence and a
// verification state. Verified is nil while open.
type Hypothesis struct {
	HypothesisID   string   `json:"hypothesis_id"`
	Content        string   `json:"content"`
	Confidence     float64  `json:"confidence"`
	Evidence       []string `json:"evidence"`
	CounterEvidence []string `json:"counter_evidence"`
	Verified       *bool    `json:"verified"`
}

// TriedQuery records one tool invocation the planner has already issued, so
// the planner can avoid strictly-redundant repeats.
type TriedQuery struct {
	ToolName      string         `json:"tool_name"`
	Parameters    map[string]any `json:"parameters"`
	Iteration     int            `json:"iteration"`
	Success       bool           `json:"success"`
	ResultSummary string         `json:"result_summary"`
}

// Matches reports whether candidateParams is a subset-match of this
// TriedQuery's parameters: same tool name, and every key in candidateParams
// has an equal value here. The relation is intentionally asymmetric — a
// more-specific prior query blocks a less-specific repeat, not vice versa.
func (t TriedQuery) Matches(toolName string, candidateParams map[string]any) bool {
	if t.ToolName != toolName {
		return false
	}
	for k, v := range candidateParams {
		stored, ok := t.Parameters[k]
		if !ok || !equalValue(stored, v) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	// Values arrive from JSON decoding or direct Go literals; compare via
	// formatted representation to sidestep numeric type mismatches
	// (float64 vs int) that don't reflect a real difference.
	return toComparable(a) == toComparable(b)
}

func toComparable(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return v
	}
}

// ReasoningState is the full per-query working-memory record.
type ReasoningState struct {
	Question     string
	QuestionType QuestionType

	SubGoals []*SubGoal

	KnownFacts    map[string]any
	EntityFacts   map[string]map[string]any
	RelationFacts map[string]map[string]any

	Hypotheses []*Hypothesis

	MissingInfo      []string
	missingInfoSet   map[string]struct{}
	FailedStrategies []string
	failedSet        map[string]struct{}

	TriedQueries []TriedQuery

	Conclusion           string
	ConclusionConfidence float64
	HasConclusion        bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newState(question string, qt QuestionType, now time.Time) *ReasoningState {
	return &ReasoningState{
		Question:       question,
		QuestionType:   qt,
		KnownFacts:     map[string]any{},
		EntityFacts:    map[string]map[string]any{},
		RelationFacts:  map[string]map[string]any{},
		missingInfoSet: map[string]struct{}{},
		failedSet:      map[string]struct{}{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsComplete reports whether the loop may stop without further iteration:
// a conclusion is set, or every sub-goal is completed, or there is nothing
// left to investigate (no missing info and no ready sub-goal).
func (s *ReasoningState) IsComplete() bool {
	if s.HasConclusion {
		return true
	}
	if len(s.SubGoals) > 0 {
		allDone := true
		for _, g := range s.SubGoals {
			if g.Status != GoalCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			return true
		}
	}
	if len(s.MissingInfo) == 0 && len(s.readyGoals()) == 0 {
		return true
	}
	return false
}

func (s *ReasoningState) readyGoals() []*SubGoal {
	completed := map[string]bool{}
	for _, g := range s.SubGoals {
		if g.Status == GoalCompleted {
			completed[g.GoalID] = true
		}
	}
	var ready []*SubGoal
	for _, g := range s.SubGoals {
		if g.Status != GoalPending {
			continue
		}
		ok := true
		for _, dep := range g.DependsOn {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, g)
		}
	}
	return ready
}

// Progress is a numeric telemetry summary of state.
type Progress struct {
	TotalSubGoals     int     `json:"total_sub_goals"`
	CompletedSubGoals int     `json:"completed_sub_goals"`
	OpenHypotheses    int     `json:"open_hypotheses"`
	MissingInfoCount  int     `json:"missing_info_count"`
	QueriesTried      int     `json:"queries_tried"`
	HasConclusion     bool    `json:"has_conclusion"`
	Confidence        float64 `json:"confidence"`
}
