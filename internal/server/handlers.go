package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/match"
	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/redaction"
	"github.com/raaihank/redactor/internal/rules"
	"github.com/raaihank/redactor/internal/websocket"
)

// RedactRequest is the body of POST /v1/redact
type RedactRequest struct {
	Content string                     `json:"content"`
	Context redaction.RedactionContext `json:"context"`
}

// RedactResponse is the result of POST /v1/redact
type RedactResponse struct {
	Content string        `json:"content"`
	Spans   int           `json:"spans"`
	Hits    map[int64]int `json:"hits,omitempty"`
	Errors  []string      `json:"errors,omitempty"`
}

func (s *Server) handleRedact(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := getRequestID(r.Context())
	log := s.logger.WithRequestID(requestID)

	var req RedactRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Context.Kind == "" {
		req.Context.Kind = redaction.KindPost
	}

	viewer, err := s.deps.Viewers(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.deps.Service.RedactContent(r.Context(), req.Content, req.Context, viewer)
	if err != nil {
		log.Error("Redaction failed", zap.Error(err))
		status := http.StatusInternalServerError
		if errors.Is(err, redaction.ErrCollaboratorUnavailable) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, r, status, redaction.PublicMessage(err))
		return
	}

	resp := RedactResponse{Content: report.Content, Spans: report.Spans, Hits: report.Hits}
	degraded := false
	for _, e := range report.Errors {
		resp.Errors = append(resp.Errors, redaction.PublicMessage(e))
		if errors.Is(e, redaction.ErrCollaboratorUnavailable) {
			degraded = true
		}
	}

	total := 0
	for _, n := range report.Hits {
		total += n
	}
	if total > 0 && s.deps.Hits != nil {
		if err := s.deps.Hits.Add(r.Context(), report.Hits); err != nil {
			log.Warn("Failed to record rule hits", zap.Error(err))
		}
	}

	s.redactions.Add(1)
	duration := time.Since(start)
	log.LogRedaction(string(req.Context.Kind), report.Spans, total, len(report.Errors), duration)

	s.broadcast(websocket.Event{
		Type:      websocket.EventTypeRedaction,
		RequestID: requestID,
		Data: websocket.RedactionEvent{
			RequestID:  requestID,
			Kind:       string(req.Context.Kind),
			Viewer:     viewerName(r.Context(), viewer),
			Spans:      report.Spans,
			Hits:       report.Hits,
			Errors:     len(report.Errors),
			Degraded:   degraded,
			DurationMS: float64(duration.Microseconds()) / 1000,
		},
	})

	writeJSON(w, http.StatusOK, resp)
}

// RuleRequest is the body of rule create and update calls
type RuleRequest struct {
	Pattern      string      `json:"pattern"`
	Description  string      `json:"description"`
	AllowedRoles rules.Roles `json:"allowed_roles"`
	CreatedBy    string      `json:"created_by"`
}

// RuleListResponse is one page of rules
type RuleListResponse struct {
	Rules  []rules.Rule `json:"rules"`
	Total  int64        `json:"total"`
	Offset int          `json:"offset"`
	Limit  int          `json:"limit"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := rules.ListOptions{
		Search:  q.Get("search"),
		OrderBy: q.Get("order_by"),
		Order:   q.Get("order"),
	}
	var err error
	if opts.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid offset")
		return
	}
	if opts.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid limit")
		return
	}
	opts = opts.Normalized()

	result, err := s.deps.Rules.List(r.Context(), opts)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	list := result.Rules
	if list == nil {
		list = []rules.Rule{}
	}
	writeJSON(w, http.StatusOK, RuleListResponse{Rules: list, Total: result.Total, Offset: opts.Offset, Limit: opts.Limit})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rule, err := s.deps.Rules.GetRule(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.ruleFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.deps.Rules.Create(r.Context(), rule); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.rulesChanged(r, "created", rule.ID)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	rule, ok := s.ruleFromRequest(w, r)
	if !ok {
		return
	}
	rule.ID = id
	if err := s.deps.Rules.Update(r.Context(), rule); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.rulesChanged(r, "updated", rule.ID)
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := s.ruleID(w, r)
	if !ok {
		return
	}
	n, err := s.deps.Rules.Delete(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if n == 0 {
		s.writeError(w, r, http.StatusNotFound, rules.ErrRuleNotFound.Error())
		return
	}
	s.rulesChanged(r, "deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// BulkDeleteRequest is the body of POST /v1/rules/bulk-delete
type BulkDeleteRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.IDs) == 0 {
		s.writeError(w, r, http.StatusBadRequest, "no rule ids given")
		return
	}
	n, err := s.deps.Rules.Delete(r.Context(), req.IDs...)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if n > 0 {
		s.rulesChanged(r, "deleted", req.IDs...)
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// ValidateRequest is the body of POST /v1/patterns/validate
type ValidateRequest struct {
	Pattern string `json:"pattern"`
	Sample  string `json:"sample,omitempty"`
}

// ValidateResponse reports whether a pattern can be stored
type ValidateResponse struct {
	Valid   bool         `json:"valid"`
	Kind    pattern.Kind `json:"kind,omitempty"`
	Error   string       `json:"error,omitempty"`
	Matches *int         `json:"matches,omitempty"`
}

func (s *Server) handleValidatePattern(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.deps.Compiler.Validate(req.Pattern); err != nil {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}
	compiled, err := s.deps.Compiler.Compile(req.Pattern)
	if err != nil {
		writeJSON(w, http.StatusOK, ValidateResponse{Valid: false, Error: err.Error()})
		return
	}

	resp := ValidateResponse{Valid: true, Kind: compiled.Kind}
	if req.Sample != "" {
		n, err := match.Count(r.Context(), compiled, req.Sample)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Matches = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) ruleFromRequest(w http.ResponseWriter, r *http.Request) (*rules.Rule, bool) {
	var req RuleRequest
	if !s.decode(w, r, &req) {
		return nil, false
	}
	if err := s.deps.Compiler.Validate(req.Pattern); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err.Error())
		return nil, false
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = r.Header.Get(HeaderViewerName)
	}
	return &rules.Rule{
		Pattern:      req.Pattern,
		Description:  req.Description,
		AllowedRoles: req.AllowedRoles,
		CreatedBy:    createdBy,
	}, true
}

func (s *Server) ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, http.StatusBadRequest, "invalid rule id")
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, rules.ErrDuplicatePattern):
		s.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, rules.ErrInvalidRule):
		s.writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Rule store failed", zap.Error(err))
		s.writeError(w, r, http.StatusServiceUnavailable, "rule store unavailable")
	}
}

// rulesChanged drops cached rule lists and announces the change
func (s *Server) rulesChanged(r *http.Request, action string, ids ...int64) {
	if s.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
		defer cancel()
		if err := s.deps.Cache.Invalidate(ctx); err != nil {
			s.logger.Warn("Failed to invalidate rule cache", zap.Error(err))
		}
	}

	for _, id := range ids {
		s.logger.WithRuleID(id).Info("Rule changed", zap.String("action", action))
	}

	s.broadcast(websocket.Event{
		Type:      websocket.EventTypeRuleChange,
		RequestID: getRequestID(r.Context()),
		Data: websocket.RuleChangeEvent{
			Action:  action,
			RuleIDs: ids,
			Count:   int64(len(ids)),
			Actor:   r.Header.Get(HeaderViewerName),
		},
	})
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
