package reasoning_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ngyygm/temporal-memory-agent/internal/reasoning"
)

var _ = Describe("Cache", func() {
	var cache *reasoning.Cache
	var clock time.Time

	BeforeEach(func() {
		clock = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		cache = reasoning.NewWithClock(func() time.Time { return clock })
		cache.Init("who is X?", reasoning.Direct)
	})

	It("rejects sub-goals depending on unknown ids", func() {
		_, err := cache.AddSubGoal("find Y", []string{"goal_99"})
		Expect(err).To(HaveOccurred())
	})

	It("keeps the sub-goal dependency graph acyclic", func() {
		g1, err := cache.AddSubGoal("find X", nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = cache.AddSubGoal("find Y", []string{g1.GoalID})
		Expect(err).NotTo(HaveOccurred())
	})

	It("does not reverse a terminal goal status back to pending", func() {
		g, _ := cache.AddSubGoal("find X", nil)
		cache.UpdateGoalStatus(g.GoalID, reasoning.GoalCompleted, nil)
		cache.UpdateGoalStatus(g.GoalID, reasoning.GoalPending, nil)
		Expect(cache.State().SubGoals[0].Status).To(Equal(reasoning.GoalCompleted))
	})

	It("returns only ready pending goals, in insertion order", func() {
		g1, _ := cache.AddSubGoal("find X", nil)
		g2, _ := cache.AddSubGoal("find Y", []string{g1.GoalID})
		Expect(cache.PendingGoals()).To(ConsistOf(g1))
		cache.UpdateGoalStatus(g1.GoalID, reasoning.GoalCompleted, nil)
		Expect(cache.PendingGoals()).To(ConsistOf(g2))
	})

	It("merges entity facts per-key instead of overwriting wholesale", func() {
		cache.AddEntityFact("e1", map[string]any{"name": "X", "content": "a scientist"})
		cache.AddEntityFact("e1", map[string]any{"physical_time": "t1"})
		bag := cache.State().EntityFacts["e1"]
		Expect(bag).To(HaveKeyWithValue("name", "X"))
		Expect(bag).To(HaveKeyWithValue("physical_time", "t1"))
	})

	It("clamps hypothesis confidence to [0,1] and never un-verifies", func() {
		h, err := cache.AddHypothesis("X is a scientist", 0.9)
		Expect(err).NotTo(HaveOccurred())
		cache.UpdateHypothesis(h.HypothesisID, nil, nil, 0.5, nil)
		Expect(cache.State().Hypotheses[0].Confidence).To(Equal(1.0))

		verifiedTrue := true
		cache.UpdateHypothesis(h.HypothesisID, []string{"ev1"}, nil, 0, &verifiedTrue)
		Expect(*cache.State().Hypotheses[0].Verified).To(BeTrue())

		cache.UpdateHypothesis(h.HypothesisID, []string{"ev2"}, nil, 0, nil)
		Expect(cache.State().Hypotheses[0].Verified).NotTo(BeNil())
		Expect(*cache.State().Hypotheses[0].Verified).To(BeTrue())
	})

	It("dedups missing_info while preserving insertion order", func() {
		cache.AddMissingInfo("need date")
		cache.AddMissingInfo("need location")
		cache.AddMissingInfo("need date")
		Expect(cache.State().MissingInfo).To(Equal([]string{"need date", "need location"}))
	})

	It("matches tried queries by asymmetric parameter subset", func() {
		cache.RecordQuery("search_entity", map[string]any{"name": "X", "limit": 10}, 1, true, "1 hit")
		Expect(cache.HasTriedQuery("search_entity", map[string]any{"name": "X"})).To(BeTrue())
		Expect(cache.HasTriedQuery("search_entity", map[string]any{"name": "X", "limit": 5})).To(BeFalse())
	})

	It("advances updated_at on every mutation", func() {
		before := cache.State().UpdatedAt
		clock = clock.Add(time.Second)
		cache.AddKnownFact("k", "v")
		Expect(cache.State().UpdatedAt).To(BeTemporally(">", before))
	})

	It("is a no-op to mutate an uninitialized cache, and raises on allocators", func() {
		fresh := reasoning.New()
		fresh.AddKnownFact("k", "v") // no panic, silently ignored
		_, err := fresh.AddSubGoal("x", nil)
		Expect(err).To(HaveOccurred())
		_, err = fresh.AddHypothesis("x", 0.5)
		Expect(err).To(HaveOccurred())
	})

	It("requires a conclusion to be backed by evidence in known_facts", func() {
		cache.AddKnownFact("reasoning_step_1", "X is a scientist per search result")
		cache.SetConclusion("X is a scientist", 0.8)
		Expect(cache.State().HasConclusion).To(BeTrue())
		Expect(cache.State().KnownFacts).To(HaveKey("reasoning_step_1"))
	})

	It("is_complete is monotone once true", func() {
		cache.AddKnownFact("reasoning_step_1", "evidence")
		cache.SetConclusion("done", 0.9)
		Expect(cache.IsComplete()).To(BeTrue())
		cache.AddMissingInfo("need more")
		Expect(cache.IsComplete()).To(BeTrue())
	})
})
