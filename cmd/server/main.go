package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/framelab/reframe/internal/api"
	"github.com/framelab/reframe/internal/db"
	"github.com/framelab/reframe/internal/llm"
	"github.com/framelab/reframe/internal/middleware"
	"github.com/framelab/reframe/internal/utils"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded environment from .env")
	}

	addr := utils.SafeEnv("REFRAME_ADDR", ":8080")
	commit := os.Getenv("REFRAME_COMMIT")
	buildTime := os.Getenv("REFRAME_BUILD_TIME")

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Fatalf("OPENAI_API_KEY environment variable is not set")
	}
	gen, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  apiKey,
		Model:   os.Getenv("REFRAME_OPENAI_MODEL"),
		BaseURL: os.Getenv("REFRAME_OPENAI_BASE_URL"),
	})
	if err != nil {
		log.Fatalf("init generator: %v", err)
	}
	log.Printf("generator ready, model=%s", gen.ModelID())

	var store api.Store
	if path := os.Getenv("REFRAME_DB"); path != "" {
		st, err := db.Open(path)
		if err != nil {
			log.Fatalf("open sqlite store at %s: %v", path, err)
		}
		store = st
		log.Printf("using sqlite store at %s", path)
	} else {
		store = api.NewMemoryStore()
		log.Printf("REFRAME_DB not set, using in-memory store (data is lost on restart)")
	}

	timeout := time.Duration(utils.IntEnv("REFRAME_AI_TIMEOUT", 30)) * time.Second

	mux := http.NewServeMux()
	api.NewRouter(store, gen, timeout).Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok":         true,
			"name":       "Reframe API",
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	handler := middleware.SecureHeaders(middleware.CORS(middleware.WithAuth(mux)))

	log.Printf("Reframe server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
