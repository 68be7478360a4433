package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"transitsql/internal/apperrors"
	"transitsql/internal/catalog"
)

// maxBodySize bounds request bodies (queries, agent replies).
const maxBodySize = 1 << 20

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	SQL     string `json:"sql"`
	MaxRows int    `json:"max_rows,omitempty"`
}

type tableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.catalog.Tables(r.Context()); err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.catalog.Tables(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	counts, err := s.catalog.TableCounts(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	out := make([]tableInfo, len(tables))
	for i, t := range tables {
		out[i] = tableInfo{Name: t, Rows: counts[t]}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	cols, err := s.catalog.Columns(r.Context(), table)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"table": table, "columns": cols})
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	res, err := s.catalog.Sample(r.Context(), chi.URLParam(r, "table"), parseIntParam(r, "limit", catalog.DefaultSampleRows))
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.respondResult(w, r, res)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		s.respondError(w, r, errors.New("request body must be JSON: {\"sql\": \"...\"}"), http.StatusBadRequest)
		return
	}
	res, err := s.catalog.Query(r.Context(), req.SQL, req.MaxRows)
	if err != nil {
		s.respondError(w, r, err, statusFor(err))
		return
	}
	s.respondResult(w, r, res)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	text, err := s.catalog.Context(r.Context(), parseIntParam(r, "samples", s.samples))
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondText(w, text)
}

func (s *Server) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	out := map[string]string{}
	for _, n := range s.prompts.Names() {
		out[n] = s.prompts.Get(n)
	}
	respondJSON(w, http.StatusOK, out)
}

// handleSystemPrompt returns every prompt block followed by the database
// context: the system message a chat front-end sends to its model.
func (s *Server) handleSystemPrompt(w http.ResponseWriter, r *http.Request) {
	text, err := s.catalog.Context(r.Context(), s.samples)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	respondText(w, s.prompts.WithContext(text))
}

// handleExtractTables turns the markdown tables of an agent reply into
// results; with ?format=csv the first table is returned as CSV.
func (s *Server) handleExtractTables(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		s.respondError(w, r, err, http.StatusRequestEntityTooLarge)
		return
	}
	tables := catalog.ExtractMarkdownTables(string(body))
	if r.URL.Query().Get("format") == "csv" {
		if len(tables) == 0 {
			s.respondError(w, r, errors.New("no markdown table found"), http.StatusUnprocessableEntity)
			return
		}
		s.respondResult(w, r, tables[0])
		return
	}
	if tables == nil {
		tables = []*catalog.Result{}
	}
	respondJSON(w, http.StatusOK, tables)
}

func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, res *catalog.Result) {
	if r.URL.Query().Get("format") != "csv" {
		respondJSON(w, http.StatusOK, res)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="query_results.csv"`)
	if err := res.WriteCSV(w); err != nil {
		s.log.Warn("write csv", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, status int) {
	code := errorCode(err)
	if code == "internal" && status < http.StatusInternalServerError {
		code = "bad_request"
	}
	s.log.Warn("request error",
		zap.String("path", r.URL.Path),
		zap.String("method", r.Method),
		zap.Int("status", status),
		zap.String("code", code),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err))
	respondJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrReadOnly):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrStore):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, catalog.ErrUnknownTable):
		return "unknown_table"
	case errors.Is(err, apperrors.ErrReadOnly):
		return "read_only"
	case errors.Is(err, apperrors.ErrStore):
		return "store"
	default:
		return "internal"
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

// parseIntParam parses a positive integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}
