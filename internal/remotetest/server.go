// Package remotetest is an in-process stand-in for the remote agent service.
// Tests drive it directly; the CLI can also serve it for local demos.
package remotetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"agent-console/internal/types"
	"agent-console/internal/utils"
)

const APIPrefix = "/api/agents"

const (
	RouteStart    = "start"
	RouteGet      = "get"
	RouteContinue = "continue"
	RouteApprove  = "approve"
	RouteTools    = "tools"
)

type failure struct {
	status int
	detail string
	left   int
}

// Service holds fake sessions and the knobs tests use to shape responses.
type Service struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	tools    []types.ToolInfo
	calls    map[string]int
	failures map[string]*failure
	holds    map[string]chan struct{}
	messages map[string][]string
	advance  bool
	now      func() time.Time
	logger   *utils.Logger
}

func NewService(logger *utils.Logger) *Service {
	if logger == nil {
		logger = utils.NopLogger()
	}
	return &Service{
		sessions: make(map[string]*types.Session),
		tools:    DefaultTools(),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
		holds:    make(map[string]chan struct{}),
		messages: make(map[string][]string),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetAutoAdvance makes every GET of an active session play one scripted step.
func (s *Service) SetAutoAdvance(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance = on
}

func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route(APIPrefix, func(r chi.Router) {
		r.Post("/sessions/start", s.handleStart)
		r.Get("/sessions/{id}", s.handleGet)
		r.Post("/sessions/{id}/continue", s.handleContinue)
		r.Post("/sessions/{id}/decisions/{decisionID}/approve", s.handleApprove)
		r.Get("/tools", s.handleTools)
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// ListenAndServe serves the fake until ctx is cancelled.
func (s *Service) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	s.logger.Infof("fake agent service listening on %s%s", addr, APIPrefix)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Server is a Service bound to an httptest server.
type Server struct {
	*Service
	HTTP *httptest.Server
}

type cleanupT interface {
	Cleanup(func())
}

func NewServer(t cleanupT) *Server {
	svc := NewService(nil)
	ts := httptest.NewServer(svc.Router())
	srv := &Server{Service: svc, HTTP: ts}
	t.Cleanup(func() {
		svc.ReleaseAll()
		ts.Close()
	})
	return srv
}

// BaseURL is the API root to hand to client.New.
func (s *Server) BaseURL() string {
	return s.HTTP.URL + APIPrefix
}

func (s *Service) PutSession(session *types.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
}

func (s *Service) Session(id string) *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id].Clone()
}

func (s *Service) Update(id string, fn func(*types.Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[id]; ok {
		fn(session)
		session.UpdatedAt = s.stamp()
	}
}

func (s *Service) SetStatus(id string, status types.SessionStatus) {
	s.Update(id, func(session *types.Session) { session.Status = status })
}

func (s *Service) AppendDecision(id string, d types.Decision) {
	s.Update(id, func(session *types.Session) {
		if d.StepNumber == 0 {
			d.StepNumber = len(session.Decisions) + 1
		}
		if d.CreatedAt == "" {
			d.CreatedAt = s.stamp()
		}
		session.Decisions = append(session.Decisions, d)
		session.CurrentStep = d.StepNumber
	})
}

func (s *Service) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Calls returns how many requests reached route.
func (s *Service) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// ContinueMessages lists the messages received for a session.
func (s *Service) ContinueMessages(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages[id]...)
}

// FailNext makes the next n requests on route answer with status.
func (s *Service) FailNext(route string, n, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &failure{status: status, detail: detail, left: n}
}

// Hold blocks GETs of session id until the returned release is called.
func (s *Service) Hold(id string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[id] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[id] == ch {
				delete(s.holds, id)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) ReleaseAll() {
	s.mu.Lock()
	holds := s.holds
	s.holds = make(map[string]chan struct{})
	s.mu.Unlock()
	for _, ch := range holds {
		close(ch)
	}
}

func (s *Service) SetTools(tools []types.ToolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
}

// enter counts the call and reports an injected failure, if any.
func (s *Service) enter(route string) *failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[route]++
	f, ok := s.failures[route]
	if !ok || f.left <= 0 {
		return nil
	}
	f.left--
	return &failure{status: f.status, detail: f.detail}
}

func (s *Service) stamp() string {
	return s.now().Format("2006-01-02T15:04:05.000000")
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	if f := s.enter(RouteStart); f != nil {
		writeDetail(w, f.status, f.detail)
		return
	}
	var req types.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}
	if req.AgentType == "" {
		req.AgentType = types.AgentTypePlanner
	}
	if req.MaxSteps == 0 {
		req.MaxSteps = 15
	}
	if strings.TrimSpace(req.Goal) == "" || req.MaxSteps < 1 || req.MaxSteps > 50 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid start request")
		return
	}
	if req.AgentType != types.AgentTypePlanner && req.AgentType != types.AgentTypeExecutor {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Unknown agent type: %s", req.AgentType))
		return
	}

	s.mu.Lock()
	now := s.stamp()
	session := &types.Session{
		ID:        uuid.NewString(),
		Goal:      req.Goal,
		Status:    types.SessionStatusPending,
		AgentType: req.AgentType,
		MaxSteps:  req.MaxSteps,
		CreatedAt: now,
		UpdatedAt: now,
		Decisions: []types.Decision{},
	}
	s.sessions[session.ID] = session
	out := session.Clone()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if f := s.enter(RouteGet); f != nil {
		writeDetail(w, f.status, f.detail)
		return
	}

	s.mu.Lock()
	hold := s.holds[id]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	if _, err := uuid.Parse(id); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid session id")
		return
	}

	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok && s.advance {
		s.step(session)
	}
	out := session.Clone()
	s.mu.Unlock()
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleContinue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if f := s.enter(RouteContinue); f != nil {
		writeDetail(w, f.status, f.detail)
		return
	}
	var req types.ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	session, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	s.messages[id] = append(s.messages[id], req.Message)
	session.Status = types.SessionStatusRunning
	session.ErrorMessage = ""
	session.Result = nil
	session.UpdatedAt = s.stamp()
	out := session.Clone()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	decisionID := chi.URLParam(r, "decisionID")
	if f := s.enter(RouteApprove); f != nil {
		writeDetail(w, f.status, f.detail)
		return
	}
	var req types.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		writeDetail(w, http.StatusNotFound, "Session not found")
		return
	}
	idx := -1
	for i, d := range session.Decisions {
		if d.ID == decisionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		writeDetail(w, http.StatusNotFound, "Decision not found")
		return
	}
	d := &session.Decisions[idx]
	if !d.RequiresApproval || d.ApprovalStatus.Resolved() {
		writeDetail(w, http.StatusBadRequest, "Decision does not require approval")
		return
	}
	if req.Approved {
		d.ApprovalStatus = types.ApprovalApproved
	} else {
		d.ApprovalStatus = types.ApprovalRejected
	}
	session.Status = types.SessionStatusRunning
	session.UpdatedAt = s.stamp()
	writeJSON(w, http.StatusOK, session.Clone())
}

func (s *Service) handleTools(w http.ResponseWriter, r *http.Request) {
	if f := s.enter(RouteTools); f != nil {
		writeDetail(w, f.status, f.detail)
		return
	}
	category := r.URL.Query().Get("category")
	s.mu.Lock()
	out := make([]types.ToolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		if category == "" || tool.Category == category {
			out = append(out, tool)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
