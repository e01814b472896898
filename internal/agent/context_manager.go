package agent

// ContextManager owns the Planner-visible collected-info digest across
// iterations and applies the Evaluator's memories_to_keep advisory.
type ContextManager struct {
	entries []digestEntry
}

type digestEntry struct {
	text      string
	sourceIDs []string
}

// NewContextManager builds an empty digest.
func NewContextManager() *ContextManager {
	return &ContextManager{}
}

// Add appends one tool outcome's rendered line, tagged with the source_ids
// of any entities/relations it carried (used later by PruneMemories).
func (c *ContextManager) Add(text string, sourceIDs []string) {
	c.entries = append(c.entries, digestEntry{text: text, sourceIDs: sourceIDs})
}

// Digest returns the lines the Planner and Evaluator should see, in the
// order they were collected.
func (c *ContextManager) Digest() []string {
	lines := make([]string, len(c.entries))
	for i, e := range c.entries {
		lines[i] = e.text
	}
	return lines
}

// PruneMemories implements the Evaluator's memories_to_keep advisory:
// drop digest entries whose source_ids don't intersect keep, shrinking the
// Planner-visible prompt. It is advisory only — it never touches anything
// already folded into the ReasoningCache fact tables, so sufficiency and
// conclusion logic downstream is unaffected by what gets pruned here. An
// empty keep list means the Evaluator expressed no opinion; nothing is
// pruned.
func (c *ContextManager) PruneMemories(keep []string) {
	if len(keep) == 0 {
		return
	}
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	kept := make([]digestEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if len(e.sourceIDs) == 0 {
			kept = append(kept, e) // nothing to key on; keep conservatively
			continue
		}
		for _, id := range e.sourceIDs {
			if keepSet[id] {
				kept = append(kept, e)
				break
			}
		}
	}
	c.entries = kept
}
