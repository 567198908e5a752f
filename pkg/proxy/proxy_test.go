package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pario-ai/google-proxy/pkg/actor"
	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/models"
)

func setupProxy(t *testing.T, upstream *httptest.Server) *Server {
	t.Helper()
	a, err := actor.New("test", []byte(`{"config":{"retry_config":{"max_retries":0}}}`), actor.Deps{
		BaseURL: upstream.URL,
		Getenv: func(k string) string {
			if k == "GOOGLE_API_KEY" {
				return "sk-provider"
			}
			return ""
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return New(":0", a, nil)
}

func echoUpstream(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("x-goog-api-key") != "sk-provider" {
			t.Error("expected provider API key in upstream request")
		}
		var body models.GenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode upstream body: %v", err)
			return
		}
		prompt := body.Contents[len(body.Contents)-1].Parts[0].Text
		if strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, word := range strings.Fields(prompt) {
				fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":%q}]}}]}\n\n", word)
			}
			fmt.Fprint(w, "data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"STOP\"}]}\n\n")
			return
		}
		fmt.Fprintf(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]},"finishReason":"STOP"}]}`, "re: "+prompt)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func post(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestGenerate(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	w := post(srv, "/v1/generate", `{"prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Proxy-Cache") != "miss" {
		t.Error("expected cache miss on first request")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected generated request id")
	}
	var resp models.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Text != "re: hi" {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Kind != models.KindTextGeneration {
		t.Errorf("kind = %q", resp.Kind)
	}

	w = post(srv, "/v1/generate", `{"type":"text_generation","prompt":"hi"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Header().Get("X-Proxy-Cache") != "hit" {
		t.Error("expected cache hit on second request")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestGenerateChatSession(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	w := post(srv, "/v1/generate", `{"type":"chat_turn","prompt":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	sessionID := w.Header().Get("X-Session-ID")
	if sessionID == "" {
		t.Fatal("expected session id header")
	}

	w = post(srv, "/v1/generate", fmt.Sprintf(`{"type":"chat_turn","prompt":"again","session_id":%q}`, sessionID))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-Session-ID"); got != sessionID {
		t.Errorf("session id = %q, want %q", got, sessionID)
	}
}

func TestGenerateErrors(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty prompt", `{"prompt":""}`, http.StatusBadRequest},
		{"unknown type", `{"type":"teleport","prompt":"x"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
		{"bad temperature", `{"prompt":"x","generation_config":{"temperature":3}}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(srv, "/v1/generate", tt.body)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			var body struct {
				Error struct {
					Type string `json:"type"`
					Code int    `json:"code"`
				} `json:"error"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Type != string(errs.KindValidation) {
				t.Errorf("type = %q", body.Error.Type)
			}
			if body.Error.Code != tt.code {
				t.Errorf("code = %d", body.Error.Code)
			}
		})
	}
	if calls.Load() != 0 {
		t.Errorf("invalid requests reached upstream %d times", calls.Load())
	}
}

func TestGenerateUpstreamStatus(t *testing.T) {
	tests := []struct {
		name     string
		upstream int
		code     int
		kind     errs.Kind
	}{
		{"forbidden is terminal", http.StatusForbidden, http.StatusBadGateway, errs.KindUpstreamTerminal},
		{"unavailable exhausts", http.StatusServiceUnavailable, http.StatusServiceUnavailable, errs.KindRetryExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.upstream)
			}))
			defer upstream.Close()
			srv := setupProxy(t, upstream)

			w := post(srv, "/v1/generate", `{"prompt":"x"}`)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), string(tt.kind)) {
				t.Errorf("expected %s in body: %s", tt.kind, w.Body.String())
			}
		})
	}
}

func readEvents(t *testing.T, body string) []models.Chunk {
	t.Helper()
	var chunks []models.Chunk
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var c models.Chunk
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			t.Fatalf("bad event %q: %v", line, err)
		}
		chunks = append(chunks, c)
	}
	return chunks
}

func TestStream(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	w := post(srv, "/v1/stream", `{"prompt":"one two three"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	chunks := readEvents(t, w.Body.String())
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d: %s", len(chunks), w.Body.String())
	}
	for i, want := range []string{"one", "two", "three"} {
		if chunks[i].Text != want {
			t.Errorf("chunk %d = %q, want %q", i, chunks[i].Text, want)
		}
	}
	if !chunks[3].Done {
		t.Error("expected final chunk to be done")
	}
}

func TestStreamViaGenerate(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	w := post(srv, "/v1/generate", `{"type":"streaming_generation","prompt":"a b"}`)
	chunks := readEvents(t, w.Body.String())
	if len(chunks) != 3 || !chunks[2].Done {
		t.Fatalf("unexpected stream: %s", w.Body.String())
	}
}

func TestStreamRejectsOtherKinds(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	w := post(srv, "/v1/stream", `{"type":"chat_turn","prompt":"x"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStreamUpstreamFailureEndsWithError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad input","status":"INVALID_ARGUMENT"}}`)
	}))
	defer upstream.Close()
	srv := setupProxy(t, upstream)

	w := post(srv, "/v1/stream", `{"prompt":"x"}`)
	chunks := readEvents(t, w.Body.String())
	if len(chunks) != 1 {
		t.Fatalf("expected a single error chunk, got %s", w.Body.String())
	}
	if chunks[0].Error == nil || chunks[0].Error.Kind != errs.KindUpstreamTerminal {
		t.Errorf("unexpected terminal chunk: %+v", chunks[0])
	}
}

func TestModelsAndStats(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))
	post(srv, "/v1/generate", `{"prompt":"hi"}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	var list struct {
		Models []models.ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Models) == 0 {
		t.Error("expected model catalog")
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/cache/stats", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	var stats models.CacheStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 || stats.Misses != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	var calls atomic.Int64
	srv := setupProxy(t, echoUpstream(t, &calls))

	req := httptest.NewRequest(http.MethodGet, "/v1/generate", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}
