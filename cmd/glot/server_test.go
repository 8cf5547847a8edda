package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/caffeineduck/glot/engine"
	"github.com/caffeineduck/glot/hostfunc"
	"github.com/caffeineduck/glot/language/sexp"
	"github.com/caffeineduck/glot/language/wasm"
)

func setupTestServer(t *testing.T, opts ...engine.Option) (*httptest.Server, *sessionManager) {
	t.Helper()

	e, err := engine.New(engine.WithLanguages(sexp.New(), wasm.New()))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	sessions := newSessionManager(e, 15*time.Minute, opts...)
	srv := &server{
		sessions:    sessions,
		defaultLang: "sexp",
		timeout:     5 * time.Second,
		logger:      zap.NewNop(),
	}
	ts := httptest.NewServer(srv.handler())

	t.Cleanup(func() {
		ts.Close()
		sessions.closeAll()
		e.Close()
	})
	return ts, sessions
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeExecute(t *testing.T, resp *http.Response) executeResponse {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestExecuteEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)

	out := decodeExecute(t, post(t, ts.URL+"/execute", executeRequest{Code: `(print "hi") (+ 1 1)`}))
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if out.Output != "hi\n" || out.Result != "2" {
		t.Errorf("unexpected response %+v", out)
	}

	out = decodeExecute(t, post(t, ts.URL+"/execute", executeRequest{Code: `(throw "nope")`}))
	if !strings.Contains(out.Error, "nope") {
		t.Errorf("expected guest error, got %+v", out)
	}
}

func TestExecuteWasm(t *testing.T) {
	ts, _ := setupTestServer(t)

	out := decodeExecute(t, post(t, ts.URL+"/execute", executeRequest{Lang: "wasm", Binary: addModule}))
	if out.Error != "" {
		t.Fatalf("unexpected error: %s", out.Error)
	}
	if !strings.Contains(out.Result, "add") {
		t.Errorf("expected exports in result, got %q", out.Result)
	}
}

func TestExecuteTimeout(t *testing.T) {
	ts, _ := setupTestServer(t)

	out := decodeExecute(t, post(t, ts.URL+"/execute", executeRequest{Code: "(while true nil)", Timeout: "50ms"}))
	if !strings.Contains(out.Error, "cancelled") {
		t.Errorf("expected cancellation, got %+v", out)
	}
}

func TestExecuteBadRequests(t *testing.T) {
	ts, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{"},
		{"missing code", "{}"},
		{"unknown language", `{"code": "1", "lang": "cobol"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/execute", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d", resp.StatusCode)
			}
		})
	}
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := post(t, ts.URL+"/sessions", struct{}{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.SessionID == "" {
		t.Fatal("expected non-empty session ID")
	}
	return out.SessionID
}

func TestSessionState(t *testing.T) {
	ts, _ := setupTestServer(t)
	id := createSession(t, ts)

	out := decodeExecute(t, post(t, ts.URL+"/sessions/"+id+"/exec", executeRequest{Code: "(def x 42)"}))
	if out.Error != "" {
		t.Fatalf("first exec failed: %s", out.Error)
	}
	out = decodeExecute(t, post(t, ts.URL+"/sessions/"+id+"/exec", executeRequest{Code: "(print x)"}))
	if out.Output != "42\n" {
		t.Errorf("state not kept, got %+v", out)
	}
}

func TestMultipleSessions(t *testing.T) {
	ts, _ := setupTestServer(t)
	id1 := createSession(t, ts)
	id2 := createSession(t, ts)
	if id1 == id2 {
		t.Fatal("session IDs should be unique")
	}

	post(t, ts.URL+"/sessions/"+id1+"/exec", executeRequest{Code: `(def x "one")`})
	post(t, ts.URL+"/sessions/"+id2+"/exec", executeRequest{Code: `(def x "two")`})

	out1 := decodeExecute(t, post(t, ts.URL+"/sessions/"+id1+"/exec", executeRequest{Code: "x"}))
	out2 := decodeExecute(t, post(t, ts.URL+"/sessions/"+id2+"/exec", executeRequest{Code: "x"}))
	if out1.Result != `"one"` || out2.Result != `"two"` {
		t.Errorf("sessions share state: %q %q", out1.Result, out2.Result)
	}
}

func TestSessionClose(t *testing.T) {
	ts, sessions := setupTestServer(t)
	id := createSession(t, ts)

	del := func() int {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+id, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := del(); code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", code)
	}
	if _, ok := sessions.get(id); ok {
		t.Error("session should not exist after close")
	}
	if code := del(); code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", code)
	}

	resp := post(t, ts.URL+"/sessions/"+id+"/exec", executeRequest{Code: "1"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}

func TestSessionExpiry(t *testing.T) {
	_, sessions := setupTestServer(t)

	id, err := sessions.create()
	if err != nil {
		t.Fatal(err)
	}
	ss, _ := sessions.get(id)

	sessions.expire(time.Now())
	if _, ok := sessions.get(id); !ok {
		t.Fatal("fresh session expired")
	}
	sessions.expire(time.Now().Add(time.Hour))
	if _, ok := sessions.get(id); ok {
		t.Error("idle session not expired")
	}
	if !ss.session.Closed() {
		t.Error("expired session not closed")
	}
}

func TestSessionsUseConfiguredCapabilities(t *testing.T) {
	ts, _ := setupTestServer(t, engine.WithKV(hostfunc.DefaultKVConfig()))
	id := createSession(t, ts)

	out := decodeExecute(t, post(t, ts.URL+"/sessions/"+id+"/exec", executeRequest{
		Code: `(host "kv_set" (object "key" "a" "value" "b")) (host "kv_get" (object "key" "a"))`,
	}))
	if out.Error != "" || out.Result != `"b"` {
		t.Errorf("unexpected response %+v", out)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts, _ := setupTestServer(t)
	decodeExecute(t, post(t, ts.URL+"/execute", executeRequest{Code: "1"}))

	resp, err := http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats map[string]struct {
		Policy  string `json:"policy"`
		Created int    `json:"created"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if st := stats["sexp"]; st.Policy != "shared" || st.Created != 1 {
		t.Errorf("unexpected sexp stats %+v", st)
	}
	if _, ok := stats["wasm"]; !ok {
		t.Error("wasm stats missing")
	}
}
