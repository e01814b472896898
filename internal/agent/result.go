package agent

import "time"

// RetrievedMemory is one normalized entity or relation surfaced in a
// QueryResult.
type RetrievedMemory struct {
	Type           string    `json:"type"` // "entity" or "relation"
	Content        string    `json:"content"`
	SourceID       string    `json:"source_id"`
	PhysicalTime   time.Time `json:"physical_time,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RelevanceScore float64   `json:"relevance_score"`
}

// TraceStep is one entry in the reasoning trace.
type TraceStep struct {
	Type      string    `json:"type"` // plan, evaluate, summary, error, ...
	Content   string    `json:"content"`
	Data      any       `json:"data,omitempty"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
}

// QueryResult is the full, structured outcome of one query.
type QueryResult struct {
	QueryID           string            `json:"query_id"`
	RetrievedMemories []RetrievedMemory `json:"retrieved_memories"`
	RelevantEntities  []map[string]any  `json:"relevant_entities"`
	RelevantRelations []map[string]any  `json:"relevant_relations"`
	ReasoningTrace    []TraceStep       `json:"reasoning_trace"`

	TotalIterations int     `json:"total_iterations"`
	TotalToolCalls  int     `json:"total_tool_calls"`
	ExecutionTime   float64 `json:"execution_time_sec"`
}

// GetAnswer scans the reasoning trace for the final summary entry's answer,
// for callers that only want the text.
func (r QueryResult) GetAnswer() string {
	if s := r.summaryData(); s != nil {
		if a, ok := s["answer"].(string); ok {
			return a
		}
	}
	return ""
}

// GetConfidence scans the reasoning trace for the final summary entry's
// confidence.
func (r QueryResult) GetConfidence() float64 {
	if s := r.summaryData(); s != nil {
		if c, ok := s["confidence"].(float64); ok {
			return c
		}
	}
	return 0
}

// GetContextText returns the Summarizer's context paragraph from the trace,
// or a deterministic fallback built directly from retrieved memories when
// no summary step is present (e.g. the loop errored before summarizing).
func (r QueryResult) GetContextText() string {
	if s := r.summaryData(); s != nil {
		if c, ok := s["context_text"].(string); ok && c != "" {
			return c
		}
	}
	var names []string
	for _, m := range r.RetrievedMemories {
		if len(names) >= 10 {
			break
		}
		names = append(names, m.Content)
	}
	if len(names) == 0 {
		return ""
	}
	out := "Retrieved: "
	for i, n := range names {
		if i > 0 {
			out += "; "
		}
		out += n
	}
	return out
}

func (r QueryResult) summaryData() map[string]any {
	for i := len(r.ReasoningTrace) - 1; i >= 0; i-- {
		step := r.ReasoningTrace[i]
		if step.Type == "summary" {
			if m, ok := step.Data.(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}
