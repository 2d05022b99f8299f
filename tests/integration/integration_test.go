//go:build integration

// Package integration_test runs the assembled SDK against an in-process
// platform stub, exercising the full transport stack: client-credentials
// auth, retries, breaker, and both protocol clients.
// Run with: go test -tags=integration ./tests/integration/...
package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stackspot/stkai-go"
)

const (
	testToken        = "integration-token"
	testConversation = "01ARZ3NDEKTSV4RRFFQ69G5FAV"
)

var (
	testServer *httptest.Server
	stub       *platform
)

// platform is a scripted stand-in for the real endpoints. Executions
// complete after pollsToComplete callbacks; failCreates makes the next N
// create calls answer 503.
type platform struct {
	mu              sync.Mutex
	nextID          int
	polls           map[string]int
	pollsToComplete int
	failCreates     int

	tokenRequests  int
	createRequests int
}

func (p *platform) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls = make(map[string]int)
	p.pollsToComplete = 1
	p.failCreates = 0
	p.tokenRequests = 0
	p.createRequests = 0
}

func (p *platform) counts() (tokens, creates int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests, p.createRequests
}

func newRouter(p *platform) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Post("/oauth/token", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil || req.PostForm.Get("grant_type") != "client_credentials" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		if req.PostForm.Get("client_id") == "" || req.PostForm.Get("client_secret") == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		p.mu.Lock()
		p.tokenRequests++
		p.mu.Unlock()
		writeJSON(w, map[string]any{"access_token": testToken, "expires_in": 3600})
	})

	authed := r.With(requireBearer)

	authed.Post("/v1/quick-commands/create-execution/{slug}", func(w http.ResponseWriter, req *http.Request) {
		p.mu.Lock()
		p.createRequests++
		if p.failCreates > 0 {
			p.failCreates--
			p.mu.Unlock()
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		if chi.URLParam(req, "slug") == "boom" {
			p.mu.Unlock()
			http.Error(w, "exploded", http.StatusInternalServerError)
			return
		}
		p.nextID++
		id := "exec-" + strconv.Itoa(p.nextID)
		p.polls[id] = 0
		p.mu.Unlock()

		var body struct {
			InputData any `json:"input_data"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusUnprocessableEntity)
			return
		}
		writeJSON(w, id)
	})

	authed.Get("/v1/quick-commands/callback/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		p.mu.Lock()
		p.polls[id]++
		done := p.polls[id] > p.pollsToComplete
		p.mu.Unlock()

		if !done {
			writeJSON(w, map[string]any{"progress": map[string]any{"status": "RUNNING"}})
			return
		}
		writeJSON(w, map[string]any{
			"progress": map[string]any{"status": "COMPLETED"},
			"result":   fmt.Sprintf(`{"execution": %q}`, id),
		})
	})

	authed.Post("/v1/agent/{agentID}/chat", func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusUnprocessableEntity)
			return
		}
		prompt, _ := body["user_prompt"].(string)
		conversationID := testConversation
		if cid, ok := body["conversation_id"].(string); ok && cid != "" {
			conversationID = cid
		}
		writeJSON(w, map[string]any{
			"message":         "echo: " + prompt,
			"stop_reason":     "stop",
			"conversation_id": conversationID,
			"tokens":          map[string]any{"user": 1, "enrichment": 2, "output": 3},
		})
	})

	return r
}

func requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// newSDK assembles a real SDK pointed at the stub, standalone auth included.
func newSDK(t *testing.T, extra map[string]string) *stkai.SDK {
	t.Helper()
	values := map[string]string{
		"sdk.log_level":           "error",
		"auth.client_id":          "integration-client",
		"auth.client_secret":      "integration-secret",
		"auth.token_url":          testServer.URL + "/oauth/token",
		"rqc.base_url":            testServer.URL,
		"agent.base_url":          testServer.URL,
		"rqc.poll_interval":       "10ms",
		"rqc.retry_initial_delay": "1ms",
		"rqc.retry_max_retries":   "0",
	}
	for k, v := range extra {
		values[k] = v
	}
	sdk, err := stkai.New(context.Background(),
		stkai.WithoutEnv(),
		stkai.WithoutHostCLI(),
		stkai.WithValues(values),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sdk.Close(context.Background()) })
	return sdk
}

func TestMain(m *testing.M) {
	stub = &platform{}
	stub.reset()
	testServer = httptest.NewServer(newRouter(stub))

	code := m.Run()

	testServer.Close()
	os.Exit(code)
}
