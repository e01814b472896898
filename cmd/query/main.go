package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ngyygm/temporal-memory-agent/common/id"
	"github.com/ngyygm/temporal-memory-agent/common/llm"
	"github.com/ngyygm/temporal-memory-agent/internal/agent"
	fakestore "github.com/ngyygm/temporal-memory-agent/internal/store/fake"
	arangostore "github.com/ngyygm/temporal-memory-agent/internal/store/arango"
	"github.com/ngyygm/temporal-memory-agent/internal/tools"
)

// cmd/query is a REPL for exercising the memory-retrieval agent directly
// against a graph store, without standing up the HTTP server.
func main() {
	ctx := context.Background()

	_ = godotenv.Load()

	if err := id.Init(1); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init id generator: %v\n", err)
		os.Exit(1)
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "LLM_API_KEY is required")
		os.Exit(1)
	}
	llmClient, err := llm.New(llm.Config{
		APIKey:  apiKey,
		BaseURL: os.Getenv("LLM_BASE_URL"),
		Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create llm client: %v\n", err)
		os.Exit(1)
	}

	var store tools.Store
	arangoURL := getEnv("ARANGO_URL", "http://localhost:8529")
	graphStore, err := arangostore.New(ctx, arangostore.Config{
		URL:      arangoURL,
		Username: getEnv("ARANGO_USERNAME", "root"),
		Password: getEnv("ARANGO_PASSWORD", ""),
		Database: getEnv("ARANGO_DATABASE", "memory_graph"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "arangodb: disabled, using in-memory fake store (%v)\n", err)
		store = fakestore.New()
	} else if err := graphStore.EnsureSchema(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "arangodb: disabled, using in-memory fake store (%v)\n", err)
		store = fakestore.New()
	} else {
		fmt.Fprintf(os.Stderr, "arangodb: connected (%s)\n", arangoURL)
		store = graphStore
	}

	registry := tools.NewStoreRegistry(store)
	orchestrator := agent.New(llmClient, []*tools.Registry{registry}, agent.Config{
		MaxIterations:   getEnvInt("MAX_ITERATIONS", 10),
		ParallelTools:   true,
		EnableReasoning: true,
		EnableSummary:   true,
	})

	fmt.Fprintln(os.Stderr, "\nQuery CLI ready. Enter a question (or 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "quit" || question == "exit" || question == "q" {
			break
		}

		result := orchestrator.Query(ctx, question)

		fmt.Println()
		fmt.Printf("Answer (confidence %.2f):\n%s\n", result.GetConfidence(), result.GetAnswer())
		if ctxText := result.GetContextText(); ctxText != "" {
			fmt.Printf("\nContext:\n%s\n", ctxText)
		}
		fmt.Printf("\n[%d iterations, %d tool calls, %.2fs]\n\n", result.TotalIterations, result.TotalToolCalls, result.ExecutionTime)
	}

	fmt.Fprintln(os.Stderr, "Goodbye!")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
