package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ngyygm/temporal-memory-agent/internal/cache"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

func TestCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cache Suite")
}

func countingRegistry(hits *int) *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Definition{Name: "search_entity"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		*hits++
		return map[string]any{"success": true, "query": params["query"]}, nil
	})
	return r
}

var _ = Describe("CachingExecutor", func() {
	var mr *miniredis.Miniredis

	BeforeEach(func() {
		var err error
		mr, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		mr.Close()
	})

	It("serves a repeated identical call from the cache without re-invoking the tool", func() {
		hits := 0
		next := tools.NewExecutor(countingRegistry(&hits), false, 5, time.Second)
		ce := cache.NewCachingExecutor(next, mr.Addr(), "", 0, time.Minute)

		call := tools.Call{CallID: "1", ToolName: "search_entity", Parameters: map[string]any{"query": "Alice"}}

		first := ce.Execute(context.Background(), []tools.Call{call})
		Expect(first[0].Status).To(Equal(tools.StatusSuccess))
		Expect(hits).To(Equal(1))

		second := ce.Execute(context.Background(), []tools.Call{call})
		Expect(second[0].Status).To(Equal(tools.StatusSuccess))
		Expect(second[0].Data["query"]).To(Equal("Alice"))
		Expect(hits).To(Equal(1)) // served from cache, tool not invoked again
	})

	It("keys calls with different parameters separately", func() {
		hits := 0
		next := tools.NewExecutor(countingRegistry(&hits), false, 5, time.Second)
		ce := cache.NewCachingExecutor(next, mr.Addr(), "", 0, time.Minute)

		ce.Execute(context.Background(), []tools.Call{{CallID: "1", ToolName: "search_entity", Parameters: map[string]any{"query": "Alice"}}})
		ce.Execute(context.Background(), []tools.Call{{CallID: "2", ToolName: "search_entity", Parameters: map[string]any{"query": "Bob"}}})

		Expect(hits).To(Equal(2))
	})

	It("falls through to the wrapped executor when redis is unreachable", func() {
		mr.Close() // now nothing is listening on mr.Addr()

		hits := 0
		next := tools.NewExecutor(countingRegistry(&hits), false, 5, time.Second)
		ce := cache.NewCachingExecutor(next, mr.Addr(), "", 0, time.Minute)

		results := ce.Execute(context.Background(), []tools.Call{
			{CallID: "1", ToolName: "search_entity", Parameters: map[string]any{"query": "Alice"}},
		})

		Expect(results[0].Status).To(Equal(tools.StatusSuccess))
		Expect(hits).To(Equal(1))
	})

	It("does not cache a non-success result", func() {
		r := tools.NewRegistry()
		hits := 0
		r.Register(tools.Definition{Name: "fails"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
			hits++
			return map[string]any{"success": false, "message": "boom"}, nil
		})
		next := tools.NewExecutor(r, false, 5, time.Second)
		ce := cache.NewCachingExecutor(next, mr.Addr(), "", 0, time.Minute)

		call := tools.Call{CallID: "1", ToolName: "fails"}
		ce.Execute(context.Background(), []tools.Call{call})
		ce.Execute(context.Background(), []tools.Call{call})

		Expect(hits).To(Equal(2)) // never cached, re-invoked every time
	})
})
