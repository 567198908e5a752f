// Package proxy exposes an actor over HTTP.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/google-proxy/pkg/actor"
	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/models"
)

const maxBodyBytes = 32 << 20

// Server is the HTTP front of one actor.
type Server struct {
	listen string
	actor  *actor.Actor
	logger *zap.Logger
	mux    *http.ServeMux
}

// New creates a Server that forwards requests to a.
func New(listen string, a *actor.Actor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		listen: listen,
		actor:  a,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	s.mux.HandleFunc("POST /v1/stream", s.handleStream)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /v1/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("http request",
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Duration("latency", time.Since(start)),
	)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("google-proxy listening", zap.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// decodeRequest reads a request body of the form {"type": ..., <fields>}.
// fallback is used when type is absent.
func decodeRequest(r *http.Request, fallback models.Kind) (models.Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errs.Validationf("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, errs.New(errs.KindValidation, "read request body", err)
	}

	var head struct {
		Type models.Kind `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, errs.New(errs.KindValidation, "invalid JSON", err)
	}
	kind := head.Type
	if kind == "" {
		kind = fallback
	}
	return models.DecodeRequest(kind, body)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := decodeRequest(r, models.KindTextGeneration)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Kind() == models.KindStreamingGeneration {
		s.stream(w, r, req)
		return
	}

	resp, err := s.actor.Ask(r.Context(), req, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	if resp.SessionID != "" {
		w.Header().Set("X-Session-ID", resp.SessionID)
	}
	if resp.Cached {
		w.Header().Set("X-Proxy-Cache", "hit")
	} else {
		w.Header().Set("X-Proxy-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	req, err := decodeRequest(r, models.KindStreamingGeneration)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Kind() != models.KindStreamingGeneration {
		writeError(w, errs.Validationf("/v1/stream only accepts %s requests", models.KindStreamingGeneration))
		return
	}
	s.stream(w, r, req)
}

// stream relays chunks as server-sent events. Every stream ends with a
// chunk that has done or error set.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, req models.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, errs.KindInternal, "response writer does not support flushing")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	terminated := false
	_, err := s.actor.Ask(r.Context(), req, func(c models.Chunk) error {
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		terminated = c.Done || c.Error != nil
		return nil
	})
	if err != nil && !terminated {
		data, _ := json.Marshal(models.Chunk{Error: models.NewErrorPayload(err)})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	if err != nil {
		s.logger.Info("stream ended with error", zap.String("error_kind", string(errs.KindOf(err))), zap.Error(err))
	}
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": s.actor.Models()})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.actor.CacheStats())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "actor": s.actor.ID()})
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindUpstreamTerminal:
		return http.StatusBadGateway
	case errs.KindUpstreamRetryable, errs.KindRetryExhausted:
		return http.StatusServiceUnavailable
	case errs.KindCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	writeJSONError(w, statusFor(kind), kind, errs.Message(err))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, kind errs.Kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":%q,"code":%d}}`, message, kind, code)
}
