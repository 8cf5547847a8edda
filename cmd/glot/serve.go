package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/glot/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for code execution",
	Long: `Start an HTTP server that provides REST endpoints for code execution.

Endpoints:
  POST   /execute              Execute code in a fresh session
  POST   /sessions             Create session, returns {"session_id":"..."}
  POST   /sessions/{id}/exec   Execute in session (state persists)
  DELETE /sessions/{id}        Close session
  GET    /stats                Instance pool statistics per language
  GET    /health               Health check

WebAssembly modules are sent base64 encoded in the "binary" field.`,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().Duration("session-ttl", 15*time.Minute, "Close sessions idle for longer than this")
	addSessionFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

type sessionManager struct {
	engine   *engine.Engine
	opts     []engine.Option
	sessions map[string]*serverSession
	mu       sync.Mutex
	ttl      time.Duration
	done     chan struct{}
}

// serverSession captures the output of one session. Executions in the same
// session are serialized so each response carries only its own output.
type serverSession struct {
	session  *engine.Session
	out      bytes.Buffer
	mu       sync.Mutex
	lastUsed time.Time
}

func newSessionManager(e *engine.Engine, ttl time.Duration, opts ...engine.Option) *sessionManager {
	sm := &sessionManager{
		engine:   e,
		opts:     opts,
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	go sm.cleanup()
	return sm
}

func (sm *sessionManager) open() (*serverSession, error) {
	ss := &serverSession{lastUsed: time.Now()}
	session, err := sm.engine.NewSession(append(slices.Clip(sm.opts),
		engine.WithStdout(&ss.out),
		engine.WithStderr(&ss.out),
	)...)
	if err != nil {
		return nil, err
	}
	ss.session = session
	return ss, nil
}

func (sm *sessionManager) create() (string, error) {
	ss, err := sm.open()
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	sm.mu.Lock()
	sm.sessions[id] = ss
	sm.mu.Unlock()
	return id, nil
}

func (sm *sessionManager) get(id string) (*serverSession, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ss, ok := sm.sessions[id]
	if ok {
		ss.lastUsed = time.Now()
	}
	return ss, ok
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if ok {
		ss.session.Close(context.Background(), true)
	}
	return ok
}

func (sm *sessionManager) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sm.done:
			return
		case now := <-ticker.C:
			sm.expire(now)
		}
	}
}

func (sm *sessionManager) expire(now time.Time) {
	sm.mu.Lock()
	var expired []*serverSession
	for id, ss := range sm.sessions {
		if now.Sub(ss.lastUsed) > sm.ttl {
			expired = append(expired, ss)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()
	for _, ss := range expired {
		ss.session.Close(context.Background(), true)
	}
}

func (sm *sessionManager) closeAll() {
	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*serverSession)
	sm.mu.Unlock()
	for _, ss := range sessions {
		ss.session.Close(context.Background(), true)
	}
	select {
	case <-sm.done:
	default:
		close(sm.done)
	}
}

type executeRequest struct {
	Code    string `json:"code,omitempty"`
	Binary  []byte `json:"binary,omitempty"`
	Lang    string `json:"lang,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type executeResponse struct {
	Output     string `json:"output"`
	Result     string `json:"result,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type server struct {
	sessions    *sessionManager
	defaultLang string
	timeout     time.Duration
	logger      *zap.Logger
}

func (s *server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.execute)
	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("POST /sessions/{id}/exec", s.sessionExec)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSession)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *server) decode(w http.ResponseWriter, r *http.Request) (executeRequest, string, bool) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return req, "", false
	}
	if req.Code == "" && len(req.Binary) == 0 {
		http.Error(w, "code required", http.StatusBadRequest)
		return req, "", false
	}
	langFlag := req.Lang
	if langFlag == "" {
		langFlag = s.defaultLang
	}
	lang, err := getLanguage(langFlag, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return req, "", false
	}
	return req, lang, true
}

// run evaluates req in ss and reports the output produced meanwhile.
func (s *server) run(ctx context.Context, ss *serverSession, lang string, req executeRequest) executeResponse {
	timeout := s.timeout
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			timeout = d
		}
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data := req.Binary
	if len(data) == 0 {
		data = []byte(req.Code)
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.out.Reset()

	start := time.Now()
	v, err := ss.session.Eval(ctx, readSource(lang, "<request>", data))
	resp := executeResponse{DurationMs: time.Since(start).Milliseconds()}
	resp.Output = ss.out.String()
	if err != nil {
		resp.Error = err.Error()
		s.logger.Debug("execution failed", zap.String("language", lang), zap.Error(err))
		return resp
	}
	if null, _ := v.IsNull(); !null {
		resp.Result = v.String()
	}
	return resp
}

func (s *server) execute(w http.ResponseWriter, r *http.Request) {
	req, lang, ok := s.decode(w, r)
	if !ok {
		return
	}
	ss, err := s.sessions.open()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}
	defer ss.session.Close(context.Background(), true)

	writeJSON(w, s.run(r.Context(), ss, lang, req))
}

func (s *server) createSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessions.create()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, createSessionResponse{SessionID: id})
}

func (s *server) sessionExec(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	req, lang, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.run(r.Context(), ss, lang, req))
}

func (s *server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions.close(r.PathValue("id")) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Error(w, "session not found", http.StatusNotFound)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	type languageStats struct {
		Policy        string `json:"policy"`
		Live          int    `json:"live"`
		Retained      int    `json:"retained"`
		Created       int    `json:"created"`
		Disposed      int    `json:"disposed"`
		Patched       int    `json:"patched"`
		CachedSources int    `json:"cached_sources"`
		Parses        int64  `json:"parses"`
	}
	out := make(map[string]languageStats)
	for id, st := range s.sessions.engine.Stats() {
		out[id] = languageStats{
			Policy:        st.Policy.String(),
			Live:          st.Live,
			Retained:      st.Retained,
			Created:       st.Created,
			Disposed:      st.Disposed,
			Patched:       st.Patched,
			CachedSources: st.CachedSources,
			Parses:        st.Parses,
		}
	}
	writeJSON(w, out)
}

func runServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	defaultLang, _ := cmd.Flags().GetString("lang")
	ttl, _ := cmd.Flags().GetDuration("session-ttl")

	if defaultLang == "" {
		defaultLang = "sexp"
	}
	if _, err := getLanguage(defaultLang, ""); err != nil {
		return err
	}
	cfg, err := loadSessionConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := cfg.sessionOptions()
	if err != nil {
		return err
	}
	e, closeEngine, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer closeEngine()

	sessions := newSessionManager(e, ttl, opts...)
	defer sessions.closeAll()

	srv := &server{
		sessions:    sessions,
		defaultLang: defaultLang,
		timeout:     cfg.Timeout,
		logger:      e.Logger(),
	}

	addr := fmt.Sprintf(":%d", port)
	fmt.Fprintf(os.Stderr, "glot server listening on %s\n", addr)
	return http.ListenAndServe(addr, srv.handler())
}
