package httpapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/agent"
	"github.com/ngyygm/temporal-memory-agent/internal/httpapi"
	"github.com/ngyygm/temporal-memory-agent/internal/httpapi/middleware"
	"github.com/ngyygm/temporal-memory-agent/internal/store/fake"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

func TestHTTPAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "HTTPAPI Suite")
}

func testRouter(handler *httpapi.QueryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	httpapi.SetupRoutes(router, handler)
	return router
}

func newTestOrchestrator(responses []string) *agent.Orchestrator {
	store := fake.New()
	store.AddEntity(tools.Entity{EntityID: "e1", Name: "Alice", Content: "Alice is a software engineer."})
	client := &llm.FakeClient{Responses: responses}
	registry := tools.NewStoreRegistry(store)
	return agent.New(client, []*tools.Registry{registry}, agent.Config{EnableReasoning: false, EnableSummary: true})
}

var _ = Describe("SetupRoutes", func() {
	It("responds to /health without touching the orchestrator", func() {
		handler := httpapi.NewQueryHandler(newTestOrchestrator(nil))
		router := testRouter(handler)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})

	It("rejects a query request with neither question nor conversation", func() {
		handler := httpapi.NewQueryHandler(newTestOrchestrator(nil))
		router := testRouter(handler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects a malformed request body", func() {
		handler := httpapi.NewQueryHandler(newTestOrchestrator(nil))
		router := testRouter(handler)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBufferString(`not json`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("runs a question through the orchestrator and returns a structured result", func() {
		responses := []string{
			`{"analysis":"look up Alice","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			`{"is_sufficient":true,"reasoning":"found Alice","memories_to_keep":[],"next_action":""}`,
			`{"summary":{"question":"Who is Alice?","answer":"Alice is a software engineer.","confidence":0.9,"answer_type":"direct"},"reasoning_chain":["found Alice"],"evidence":{"supporting":[],"entities_used":["e1"],"relations_used":[]},"limitations":[]}`,
			`Alice is a software engineer.`,
		}
		handler := httpapi.NewQueryHandler(newTestOrchestrator(responses))
		router := testRouter(handler)

		body, _ := json.Marshal(map[string]string{"question": "Who is Alice?"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))

		var result agent.QueryResult
		Expect(json.Unmarshal(rec.Body.Bytes(), &result)).To(Succeed())
		Expect(result.GetAnswer()).To(Equal("Alice is a software engineer."))
	})

	It("accepts a conversation array in place of a bare question", func() {
		responses := []string{
			`{"analysis":"look up Alice","tool_calls":[{"tool_name":"search_entity","parameters":{"query":"Alice"}}],"is_complete":false}`,
			`{"is_sufficient":true,"reasoning":"found Alice","memories_to_keep":[],"next_action":""}`,
			`{"summary":{"question":"Who is Alice?","answer":"Alice is a software engineer.","confidence":0.9,"answer_type":"direct"},"reasoning_chain":["found Alice"],"evidence":{"supporting":[],"entities_used":["e1"],"relations_used":[]},"limitations":[]}`,
			`Alice is a software engineer.`,
		}
		handler := httpapi.NewQueryHandler(newTestOrchestrator(responses))
		router := testRouter(handler)

		body, _ := json.Marshal(map[string]any{
			"conversation": []map[string]string{
				{"role": "user", "content": "Who is Alice?"},
			},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/query", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("middleware.Recovery", func() {
	It("turns a panicking handler into a 500 instead of crashing", func() {
		gin.SetMode(gin.TestMode)
		router := gin.New()
		router.Use(middleware.Recovery())
		router.GET("/boom", func(c *gin.Context) {
			panic("kaboom")
		})

		req := httptest.NewRequest(http.MethodGet, "/boom", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
	})
})
