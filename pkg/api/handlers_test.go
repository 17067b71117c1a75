package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"chatrelay/pkg/api"
	"chatrelay/pkg/dispatch"
	"chatrelay/pkg/gateway"
	"chatrelay/pkg/models"
	"chatrelay/pkg/notify"
	"chatrelay/pkg/store"
)

type scriptedAgent struct {
	result gateway.Result
	err    error
}

func (a scriptedAgent) Invoke(_ context.Context, _ gateway.Request) (gateway.Result, error) {
	return a.result, a.err
}

func newTestServer(t *testing.T, agent gateway.Agent, queueCap int) *httptest.Server {
	t.Helper()
	if err := store.Open(t.TempDir()); err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	broker := notify.NewBroker(8, 100*time.Millisecond)
	t.Cleanup(broker.Close)
	if agent == nil {
		agent = scriptedAgent{result: gateway.Result{Answer: "hi"}}
	}
	d := dispatch.NewDispatcher(agent, broker)
	q := dispatch.NewQueue(queueCap)
	t.Cleanup(q.CloseAndDrain)

	r := mux.NewRouter()
	api.NewServer(q, d).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any, hdr map[string]string) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return res
}

func TestSubmitAccepted(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	res := postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m1", "question": "hello"}, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.StatusCode)
	}
	var out map[string]string
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "pending" || out["id"] != "m1" {
		t.Fatalf("unexpected response: %v", out)
	}

	// the pending record exists with no answer
	m, err := store.GetMessage("m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if m.Answered() {
		t.Fatalf("submission must be stored pending: %+v", m)
	}
	// the session was created implicitly
	if _, err := store.GetSession("s1"); err != nil {
		t.Fatalf("session not created: %v", err)
	}
}

func TestSubmitBumpsSessionActivity(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	old := time.Now().Add(-48 * time.Hour).UnixNano()
	if err := store.SaveSession(models.Session{ID: "s1", CreatedTS: old, UpdatedTS: old}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	res := postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m1", "question": "hello"}, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.StatusCode)
	}

	s, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s.UpdatedTS <= old {
		t.Fatalf("submission did not bump session activity: %d", s.UpdatedTS)
	}
	if s.CreatedTS != old {
		t.Fatalf("creation timestamp changed: %d", s.CreatedTS)
	}
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	res := postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m1"}, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty question, got %d", res.StatusCode)
	}
}

func TestSubmitAnsweredDuplicateConflicts(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	if err := store.CreateMessage(models.Message{ID: "m1", SessionID: "s1", Question: "q", TS: 1}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if _, err := store.UpdateAnswer("m1", "done", ""); err != nil {
		t.Fatalf("UpdateAnswer: %v", err)
	}

	res := postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m1", "question": "q"}, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for answered duplicate, got %d", res.StatusCode)
	}
}

func TestSubmitUnansweredDuplicateReenqueued(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	if err := store.CreateMessage(models.Message{ID: "m1", SessionID: "s1", Question: "q", TS: 1}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	res := postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m1", "question": "q"}, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 for unanswered redelivery, got %d", res.StatusCode)
	}
}

func TestSubmitQueueFull(t *testing.T) {
	srv := newTestServer(t, nil, 1)

	res := postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m1", "question": "q1"}, nil)
	res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("first submit: expected 202, got %d", res.StatusCode)
	}
	res = postJSON(t, srv.URL+"/v1/sessions/s1/messages", map[string]string{"id": "m2", "question": "q2"}, nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when queue is full, got %d", res.StatusCode)
	}
}

func TestGetMessage(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	if err := store.CreateMessage(models.Message{ID: "m1", SessionID: "s1", Question: "q", TS: 1}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	res, err := http.Get(srv.URL + "/v1/messages/m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var m models.Message
	if err := json.NewDecoder(res.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != "m1" {
		t.Fatalf("unexpected message: %+v", m)
	}

	res2, err := http.Get(srv.URL + "/v1/messages/absent")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res2.StatusCode)
	}
}

func TestListMessagesFiltersSession(t *testing.T) {
	srv := newTestServer(t, nil, 16)

	for _, m := range []models.Message{
		{ID: "msg-1", SessionID: "s1", Question: "a", TS: 1},
		{ID: "msg-2", SessionID: "s2", Question: "b", TS: 2},
	} {
		if err := store.CreateMessage(m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}
	res, err := http.Get(srv.URL + "/v1/sessions/s1/messages")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	defer res.Body.Close()
	var out struct {
		SessionID string           `json:"sessionId"`
		Messages  []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].ID != "msg-1" {
		t.Fatalf("unexpected listing: %+v", out)
	}
}

func TestProcessRecordsEndpoint(t *testing.T) {
	srv := newTestServer(t, scriptedAgent{result: gateway.Result{Answer: "ans"}}, 16)

	for _, m := range []models.Message{
		{ID: "m1", SessionID: "s1", Question: "q1", TS: 1},
		{ID: "m2", SessionID: "s2", Question: "q2", TS: 2},
	} {
		if err := store.CreateMessage(m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	body := map[string]any{"records": []dispatch.StreamRecord{
		{EventID: "e1", EventName: dispatch.EventInsert, Message: models.Message{ID: "m1", SessionID: "s1", Question: "q1", TS: 1}},
		{EventID: "e2", EventName: dispatch.EventModify, Message: models.Message{ID: "m2", SessionID: "s2", Question: "q2", TS: 2}},
	}}

	// without the backend role the endpoint is forbidden
	res := postJSON(t, srv.URL+"/v1/records", body, nil)
	res.Body.Close()
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without backend role, got %d", res.StatusCode)
	}

	res = postJSON(t, srv.URL+"/v1/records", body, map[string]string{"X-Role-Name": "backend"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	var out dispatch.BatchResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Failed() {
		t.Fatalf("unexpected failures: %+v", out.Failures)
	}

	m1, _ := store.GetMessage("m1")
	if m1.Answer != "ans" {
		t.Fatalf("insert record not dispatched: %+v", m1)
	}
	m2, _ := store.GetMessage("m2")
	if m2.Answered() {
		t.Fatalf("modify record must be skipped: %+v", m2)
	}
}
