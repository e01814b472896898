package tools_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

func TestTools(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Tools Suite")
}

func echoRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.Definition{Name: "echo"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"success": true, "value": params["value"]}, nil
	})
	r.Register(tools.Definition{Name: "fails"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"success": false, "message": "tool reported failure"}, nil
	})
	r.Register(tools.Definition{Name: "slow"}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		select {
		case <-time.After(time.Second):
			return map[string]any{"success": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return r
}

var _ = Describe("Executor", func() {
	It("returns results in call order regardless of completion order", func() {
		r := echoRegistry()
		ex := tools.NewExecutor(r, true, 5, time.Second)
		calls := []tools.Call{
			{CallID: "1", ToolName: "echo", Parameters: map[string]any{"value": "a"}},
			{CallID: "2", ToolName: "echo", Parameters: map[string]any{"value": "b"}},
			{CallID: "3", ToolName: "echo", Parameters: map[string]any{"value": "c"}},
		}
		results := ex.Execute(context.Background(), calls)
		Expect(results).To(HaveLen(3))
		Expect(results[0].CallID).To(Equal("1"))
		Expect(results[1].CallID).To(Equal("2"))
		Expect(results[2].CallID).To(Equal("3"))
	})

	It("produces identical content and order for parallel and sequential execution", func() {
		r := echoRegistry()
		calls := []tools.Call{
			{CallID: "1", ToolName: "echo", Parameters: map[string]any{"value": "a"}},
			{CallID: "2", ToolName: "echo", Parameters: map[string]any{"value": "b"}},
		}
		seq := tools.NewExecutor(r, false, 5, time.Second).Execute(context.Background(), calls)
		par := tools.NewExecutor(r, true, 5, time.Second).Execute(context.Background(), calls)
		Expect(seq).To(Equal(par))
	})

	It("reports tool not found without panicking", func() {
		r := echoRegistry()
		ex := tools.NewExecutor(r, false, 5, time.Second)
		results := ex.Execute(context.Background(), []tools.Call{{CallID: "1", ToolName: "missing"}})
		Expect(results[0].Status).To(Equal(tools.StatusError))
		Expect(results[0].ErrorMessage).To(Equal("tool not found"))
	})

	It("maps a tool-reported failure to status=error", func() {
		r := echoRegistry()
		ex := tools.NewExecutor(r, false, 5, time.Second)
		results := ex.Execute(context.Background(), []tools.Call{{CallID: "1", ToolName: "fails"}})
		Expect(results[0].Status).To(Equal(tools.StatusError))
		Expect(results[0].ErrorMessage).To(Equal("tool reported failure"))
	})

	It("times out a slow tool without crashing the loop", func() {
		r := echoRegistry()
		ex := tools.NewExecutor(r, false, 5, 10*time.Millisecond)
		start := time.Now()
		results := ex.Execute(context.Background(), []tools.Call{{CallID: "1", ToolName: "slow"}})
		Expect(time.Since(start)).To(BeNumerically("<", 500*time.Millisecond))
		Expect(results[0].Status).To(Equal(tools.StatusTimeout))
	})
})
