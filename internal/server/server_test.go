package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/lazypower/courier/internal/agent"
	"github.com/lazypower/courier/internal/journal"
	"github.com/lazypower/courier/internal/node"
)

type fakeNode struct {
	status    node.Status
	bundles   []node.BundleInfo
	submitted []agent.Origination
	err       error
}

func (f *fakeNode) Status() node.Status        { return f.status }
func (f *fakeNode) Bundles() []node.BundleInfo { return f.bundles }
func (f *fakeNode) Submit(o agent.Origination) error {
	if f.err != nil {
		return f.err
	}
	f.submitted = append(f.submitted, o)
	return nil
}

func testServer(t *testing.T, opts ...Option) (*Server, *fakeNode, *journal.DB) {
	t.Helper()
	db, err := journal.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	n := &fakeNode{status: node.Status{EID: "ipn://2", Mode: "RX", Policy: "scheduled"}}
	return New(n, db, "test-version", opts...), n, db
}

func do(t *testing.T, srv *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("%s %s: decode body %q: %v", method, path, w.Body.String(), err)
	}
	return w, out
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	w, body := do(t, srv, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["eid"] != "ipn://2" {
		t.Errorf("eid = %v, want ipn://2", body["eid"])
	}
	if body["journal"] != true {
		t.Errorf("journal = %v, want true", body["journal"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, n, _ := testServer(t)
	n.status.Store.Stored = 7
	n.status.Store.Known = 12

	w, body := do(t, srv, "GET", "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["mode"] != "RX" {
		t.Errorf("mode = %v, want RX", body["mode"])
	}
	st, ok := body["store"].(map[string]any)
	if !ok {
		t.Fatalf("store = %T", body["store"])
	}
	if st["stored"] != float64(7) || st["known"] != float64(12) {
		t.Errorf("store = %v", st)
	}
}

func TestListBundles(t *testing.T) {
	srv, n, _ := testServer(t)
	n.bundles = []node.BundleInfo{
		{ID: "ipn://1-1-0", Source: "ipn://1", Destination: "ipn://3.1", ForwardedTo: []string{"ipn://1"}},
		{ID: "ipn://1-1-1", Source: "ipn://1", Destination: "ipn://3.1"},
	}

	_, body := do(t, srv, "GET", "/api/bundles", nil)
	list, ok := body["bundles"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("bundles = %v", body["bundles"])
	}
	first := list[0].(map[string]any)
	if first["id"] != "ipn://1-1-0" {
		t.Errorf("first id = %v", first["id"])
	}
}

func TestSubmitBundle(t *testing.T) {
	srv, n, _ := testServer(t)

	w, body := do(t, srv, "POST", "/api/bundles", map[string]string{
		"destination": "ipn://3.1",
		"payload":     "hello",
		"lifetime":    "10m",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %v", w.Code, body)
	}
	if len(n.submitted) != 1 {
		t.Fatalf("submitted = %d, want 1", len(n.submitted))
	}
	got := n.submitted[0]
	if got.Destination != "ipn://3.1" || string(got.Payload) != "hello" || got.Lifetime != 10*time.Minute {
		t.Errorf("origination = %+v", got)
	}

	w, _ = do(t, srv, "POST", "/api/bundles", map[string]string{
		"destination":    "ipn://3.1",
		"payload_base64": "AQID",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("base64 status = %d", w.Code)
	}
	if p := n.submitted[1].Payload; len(p) != 3 || p[2] != 3 {
		t.Errorf("payload = %v", p)
	}
}

func TestSubmitBundleErrors(t *testing.T) {
	srv, n, _ := testServer(t)

	cases := []struct {
		name string
		body map[string]string
		want int
	}{
		{"no destination", map[string]string{"payload": "x"}, http.StatusBadRequest},
		{"bad lifetime", map[string]string{"destination": "ipn://3.1", "lifetime": "soon"}, http.StatusBadRequest},
		{"bad base64", map[string]string{"destination": "ipn://3.1", "payload_base64": "%%%"}, http.StatusBadRequest},
		{"both payloads", map[string]string{"destination": "ipn://3.1", "payload": "a", "payload_base64": "YQ=="}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w, body := do(t, srv, "POST", "/api/bundles", tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
		if body["error"] == "" {
			t.Errorf("%s: expected error message", tc.name)
		}
	}

	n.err = agent.ErrQueueFull
	w, _ := do(t, srv, "POST", "/api/bundles", map[string]string{"destination": "ipn://3.1"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("queue full: status = %d, want 503", w.Code)
	}

	n.err = fmt.Errorf("%w: 70000 bytes", agent.ErrPayloadTooLarge)
	w, _ = do(t, srv, "POST", "/api/bundles", map[string]string{"destination": "ipn://3.1"})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("payload too large: status = %d, want 413", w.Code)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	srv, _, _ := testServer(t, WithSubmitRate(rate.Every(time.Hour), 2))

	body := map[string]string{"destination": "ipn://3.1"}
	for i := 0; i < 2; i++ {
		if w, _ := do(t, srv, "POST", "/api/bundles", body); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if w, _ := do(t, srv, "POST", "/api/bundles", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", w.Code)
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, _, db := testServer(t)
	base := time.UnixMilli(1_700_000_000_000)
	for i, kind := range []string{journal.KindReceive, journal.KindMode, journal.KindSend} {
		if err := db.Record(journal.Event{At: base.Add(time.Duration(i) * time.Second), Kind: kind}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	_, body := do(t, srv, "GET", "/api/events?limit=2", nil)
	events, ok := body["events"].([]any)
	if !ok || len(events) != 2 {
		t.Fatalf("events = %v", body["events"])
	}
	if k := events[0].(map[string]any)["kind"]; k != journal.KindSend {
		t.Errorf("newest kind = %v, want send", k)
	}

	w, _ := do(t, srv, "GET", "/api/events?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d, want 400", w.Code)
	}
}

func TestEventsJournalDisabled(t *testing.T) {
	srv := New(&fakeNode{}, nil, "v")
	w, body := do(t, srv, "GET", "/api/events", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if body["error"] != "journal disabled" {
		t.Errorf("error = %v", body["error"])
	}
}
