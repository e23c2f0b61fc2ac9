// Package server provides the HTTP API for recur: GET /health, POST /parse,
// and a small history surface backed by pkg/history.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/danblack/recur/pkg/analyzer"
	"github.com/danblack/recur/pkg/grammar"
	"github.com/danblack/recur/pkg/history"
)

var serverLog = log.New(os.Stderr, "[recur:server] ", log.Ltime)

// Server provides the HTTP API for recur.
type Server struct {
	analyzer *analyzer.Analyzer
	history  *history.Store // nil disables the /history endpoints
	addr     string
	mux      *http.ServeMux
}

// NewServer creates a new HTTP server around the given grammar loader. hist
// may be nil, in which case /history and /history/search return 404.
func NewServer(loader grammar.Loader, hist *history.Store, addr string) *Server {
	s := &Server{
		analyzer: analyzer.New(loader),
		history:  hist,
		addr:     addr,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/parse", s.handleParse)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/history/search", s.handleHistorySearch)
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	serverLog.Printf("listening on %s", s.addr)
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.recoverMiddleware(s.mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

// recoverMiddleware converts a panic anywhere in the handler chain into a
// 500 instead of crashing the process — the single recover() point named
// in the error handling taxonomy.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				serverLog.Printf("recovered panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				errorResponse(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// MaxRequestBodySize limits request body size to 1MB.
const MaxRequestBodySize = 1 << 20

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
}

func jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		serverLog.Printf("failed to encode response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

// handleHealth always reports ok — there is no dependency it could fail on.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// parseRequest is the POST /parse request body. Code is a pointer so a
// missing field (400, "code is required") can be told apart from a present
// but empty string (200, empty result — see scenario 6 of the error
// handling taxonomy).
type parseRequest struct {
	Language string  `json:"language"`
	Code     *string `json:"code"`
}

// handleParse analyzes one C source file and, if history is configured,
// records the result for later retrieval/search.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limitRequestBody(w, r)
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			// A genuinely empty body carries no input at all — treated the
			// same as an empty code string (scenario 6), not malformed JSON.
			empty := ""
			req.Code = &empty
		} else {
			errorResponse(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Code == nil {
		errorResponse(w, "code is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	code := []byte(*req.Code)
	result, err := s.analyzer.Analyze(ctx, req.Language, code)
	if err != nil {
		serverLog.Printf("analyze failed: %v", err)
		errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.history != nil {
		if _, err := s.history.Record(req.Language, code, result); err != nil {
			serverLog.Printf("recording history: %v", err)
		}
	}

	jsonResponse(w, result, http.StatusOK)
}

// handleHistory lists recently analyzed records, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		errorResponse(w, "history not enabled", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.history.List(50)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, records, http.StatusOK)
}

// handleHistorySearch full-text searches past records by function name,
// recurrence model, or language.
func (s *Server) handleHistorySearch(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		errorResponse(w, "history not enabled", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet {
		errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		errorResponse(w, fmt.Sprintf("query parameter %q required", "q"), http.StatusBadRequest)
		return
	}

	records, err := s.history.Search(query, 20)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, records, http.StatusOK)
}
