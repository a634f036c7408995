package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	hooks "github.com/formatic/hooks"
	"github.com/formatic/hooks/api"
	"github.com/formatic/hooks/store/memory"
)

// testServer creates a Handler backed by a memory store and returns the test server.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	eng, err := hooks.New(hooks.WithStore(memory.New()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { eng.Stop(context.Background()) })

	h := api.NewHandler(eng, slog.Default())
	return httptest.NewServer(h)
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

// asAdmin returns actor headers for an admin caller.
func asAdmin() map[string]string {
	return map[string]string{
		"X-Actor-ID":   "user_admin",
		"X-Actor-Role": "admin",
	}
}

// asMember returns actor headers for a non-admin caller.
func asMember() map[string]string {
	return map[string]string{
		"X-Actor-ID":   "user_member",
		"X-Actor-Role": "member",
	}
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func createWebhook(t *testing.T, srv *httptest.Server, headers map[string]string) string {
	t.Helper()

	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"form_id":     "form_1",
		"name":        "CRM sync",
		"url":         "https://example.com/hook",
		"event_types": []string{"submission.created"},
	}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create webhook: expected 201, got %d", resp.StatusCode)
	}
	var created map[string]any
	decodeBody(t, resp, &created)

	wh, _ := created["webhook"].(map[string]any)
	whID, ok := wh["id"].(string)
	if !ok || whID == "" {
		t.Fatalf("expected non-empty webhook ID, got %v", created)
	}
	if created["secret"] == "" {
		t.Fatal("expected secret in create response")
	}
	return whID
}

// --- Webhooks ---

func TestWebhooks_CRUD(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	whID := createWebhook(t, srv, asMember())

	// Get
	resp := doJSON(t, "GET", srv.URL+"/webhooks/"+whID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List
	resp = doJSON(t, "GET", srv.URL+"/webhooks?form_id=form_1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var whs []map[string]any
	decodeBody(t, resp, &whs)
	if len(whs) != 1 {
		t.Fatalf("expected 1 webhook, got %d", len(whs))
	}

	// Update
	resp = doJSON(t, "PUT", srv.URL+"/webhooks/"+whID, map[string]any{
		"form_id":     "form_1",
		"name":        "CRM sync v2",
		"url":         "https://example.com/hook2",
		"event_types": []string{"submission.created", "submission.updated"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	var updated map[string]any
	decodeBody(t, resp, &updated)
	if updated["url"] != "https://example.com/hook2" {
		t.Fatalf("expected updated URL, got %v", updated["url"])
	}

	// Disable / enable
	resp = doJSON(t, "PATCH", srv.URL+"/webhooks/"+whID+"/disable", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("disable: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "PATCH", srv.URL+"/webhooks/"+whID+"/enable", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("enable: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Rotate secret
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/rotate-secret", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d", resp.StatusCode)
	}
	var secretResp map[string]string
	decodeBody(t, resp, &secretResp)
	if secretResp["secret"] == "" {
		t.Fatal("expected non-empty secret")
	}

	// Delete (no delivery history yet)
	resp = doJSON(t, "DELETE", srv.URL+"/webhooks/"+whID, nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Get deleted → 404
	resp = doJSON(t, "GET", srv.URL+"/webhooks/"+whID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebhooks_CreateValidation(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Missing form_id
	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"url":         "https://example.com/hook",
		"event_types": []string{"submission.created"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing form_id, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Missing event types
	resp = doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"form_id": "form_1",
		"url":     "https://example.com/hook",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing event_types, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebhooks_ListRequiresFormID(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/webhooks", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebhooks_TestDelivery(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := doJSON(t, "POST", srv.URL+"/webhooks", map[string]any{
		"form_id":     "form_1",
		"name":        "CRM sync",
		"url":         target.URL,
		"event_types": []string{"submission.created"},
	}, asAdmin())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create webhook: expected 201, got %d", resp.StatusCode)
	}
	var created map[string]any
	decodeBody(t, resp, &created)
	wh, _ := created["webhook"].(map[string]any)
	whID, _ := wh["id"].(string)

	// A reachable target reports the response status, no error field.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/test", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test: expected 200, got %d", resp.StatusCode)
	}
	var result map[string]any
	decodeBody(t, resp, &result)
	if result["status_code"] != float64(200) {
		t.Fatalf("expected status_code 200, got %v", result["status_code"])
	}
	if _, ok := result["error"]; ok {
		t.Fatalf("unexpected error field: %v", result["error"])
	}

	// An unreachable target surfaces the transport error in the response.
	target.Close()
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/test", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("test: expected 200, got %d", resp.StatusCode)
	}
	result = map[string]any{}
	decodeBody(t, resp, &result)
	if result["status_code"] != float64(0) {
		t.Fatalf("expected status_code 0, got %v", result["status_code"])
	}
	errMsg, _ := result["error"].(string)
	if errMsg == "" {
		t.Fatal("expected a non-empty error message")
	}
}

// --- Approval workflow ---

func TestWebhooks_ApprovalWorkflow(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	whID := createWebhook(t, srv, asMember())

	// A member-created webhook starts pending.
	resp := doJSON(t, "GET", srv.URL+"/webhooks/"+whID, nil, nil)
	var wh map[string]any
	decodeBody(t, resp, &wh)
	if wh["approval"] != "pending" {
		t.Fatalf("expected approval pending, got %v", wh["approval"])
	}

	// Non-admin cannot approve.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/approve", nil, asMember())
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member approve: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin approves.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/approve", nil, asAdmin())
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("admin approve: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Approving again is an invalid transition.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/approve", nil, asAdmin())
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("double approve: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin revokes by rejecting.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/reject", nil, asAdmin())
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reject: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Reset back to pending for re-review.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/"+whID+"/reset-review", nil, asAdmin())
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("reset-review: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestWebhooks_AdminCreateAutoApproves(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	whID := createWebhook(t, srv, asAdmin())

	resp := doJSON(t, "GET", srv.URL+"/webhooks/"+whID, nil, nil)
	var wh map[string]any
	decodeBody(t, resp, &wh)
	if wh["approval"] != "approved" {
		t.Fatalf("expected approval approved, got %v", wh["approval"])
	}
}

func TestWebhooks_ApproveAll(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	createWebhook(t, srv, asMember())
	createWebhook(t, srv, asMember())

	resp := doJSON(t, "POST", srv.URL+"/webhooks/approve-all?form_id=form_1", nil, asAdmin())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve-all: expected 200, got %d", resp.StatusCode)
	}
	var result map[string]int
	decodeBody(t, resp, &result)
	if result["approved"] != 2 {
		t.Fatalf("expected 2 approved, got %d", result["approved"])
	}

	// Without form_id the request is rejected.
	resp = doJSON(t, "POST", srv.URL+"/webhooks/approve-all", nil, asAdmin())
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Events ---

func TestEvents_DispatchAndGet(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type":          "submission.created",
		"form_id":       "form_1",
		"form_title":    "Contact us",
		"submission_id": "sub_1",
		"data":          map[string]any{"email": "a@example.com"},
	}, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("dispatch: expected 202, got %d", resp.StatusCode)
	}
	var evt map[string]any
	decodeBody(t, resp, &evt)
	evtID, ok := evt["id"].(string)
	if !ok || evtID == "" {
		t.Fatal("expected non-empty event ID")
	}

	// Get
	resp = doJSON(t, "GET", srv.URL+"/events/"+evtID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List
	resp = doJSON(t, "GET", srv.URL+"/events?form_id=form_1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var events []map[string]any
	decodeBody(t, resp, &events)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
}

func TestEvents_UnknownType(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type":    "order.created",
		"form_id": "form_1",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown type, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEvents_MissingFormID(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"type": "submission.created",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing form_id, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Delivery log ---

func TestLogs_ListEmpty(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/logs", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list logs: expected 200, got %d", resp.StatusCode)
	}
	var page map[string]any
	decodeBody(t, resp, &page)
	data, _ := page["data"].([]any)
	if len(data) != 0 {
		t.Fatalf("expected 0 rows, got %d", len(data))
	}
}

func TestLogs_BadStatusFilter(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/logs?status=bogus", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeliveries_ListEmpty(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	whID := createWebhook(t, srv, asAdmin())

	resp := doJSON(t, "GET", srv.URL+"/webhooks/"+whID+"/deliveries", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list deliveries: expected 200, got %d", resp.StatusCode)
	}
	var deliveries []map[string]any
	decodeBody(t, resp, &deliveries)
	if len(deliveries) != 0 {
		t.Fatalf("expected 0 deliveries, got %d", len(deliveries))
	}
}

func TestWebhookStats_BadDays(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	whID := createWebhook(t, srv, asAdmin())

	resp := doJSON(t, "GET", srv.URL+"/webhooks/"+whID+"/stats?days=400", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Stats ---

func TestStats(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/stats", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)
	if _, ok := stats["pending_deliveries"]; !ok {
		t.Fatal("expected pending_deliveries in response")
	}
}

// --- Invalid IDs ---

func TestWebhook_InvalidID(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/webhooks/not-a-valid-id", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLog_InvalidID(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/logs/not-a-valid-id", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
