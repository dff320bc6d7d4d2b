package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xraph/rewind"
	"github.com/xraph/rewind/api"
	"github.com/xraph/rewind/event"
	"github.com/xraph/rewind/feed"
	"github.com/xraph/rewind/id"
	"github.com/xraph/rewind/project"
	"github.com/xraph/rewind/quarantine"
	"github.com/xraph/rewind/session"
	"github.com/xraph/rewind/signature"
	"github.com/xraph/rewind/store/memory"
	"github.com/xraph/rewind/transport"
)

type fixture struct {
	srv *httptest.Server
	rw  *rewind.Rewind
	key string
	pid id.ID
}

// testServer creates a Handler backed by a memory store and a project.
func testServer(t *testing.T, opts ...api.HandlerOption) *fixture {
	t.Helper()

	hub := feed.NewHub()
	t.Cleanup(hub.Close)

	rw, err := rewind.New(
		rewind.WithStore(memory.New()),
		rewind.WithFeed(hub),
		rewind.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatal(err)
	}
	p, err := rw.Projects().Create(context.Background(), project.Input{Name: "storefront"})
	if err != nil {
		t.Fatal(err)
	}

	opts = append([]api.HandlerOption{api.WithHub(hub)}, opts...)
	h := api.NewHandler(rw, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &fixture{srv: srv, rw: rw, key: p.IngestKey, pid: p.ID}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
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
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func wireBatch(t *testing.T, sid id.ID, events ...*event.Event) []byte {
	t.Helper()
	body, err := event.EncodeBatch(&event.Batch{ID: id.NewBatchID(), SessionID: sid, Events: events})
	if err != nil {
		t.Fatalf("encode batch: %v", err)
	}
	return body
}

func upload(t *testing.T, f *fixture, key string, body []byte, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, f.srv.URL+"/ingest", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(transport.HeaderKey, key)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func start(ts int64) *event.Event {
	return event.New(ts, "https://shop.test/", event.SessionStart{UserAgent: "test", Browser: "firefox"})
}

func click(ts int64, sel string) *event.Event {
	return event.New(ts, "https://shop.test/", event.MouseClick{Selector: sel, X: 4, Y: 8})
}

func custom(ts int64, name string) *event.Event {
	return event.New(ts, "https://shop.test/", event.Custom{Name: name})
}

// --- Ingestion ---

func TestIngest(t *testing.T) {
	f := testServer(t)
	sid := id.NewSessionID()

	resp := upload(t, f, f.key, wireBatch(t, sid, start(0), click(50, "#buy")))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var res rewind.IngestResult
	decodeBody(t, resp, &res)
	if res.Accepted != 2 || res.SessionID != sid {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestIngest_Unauthorized(t *testing.T) {
	f := testServer(t)
	body := wireBatch(t, id.NewSessionID(), click(1, "#a"))

	resp := upload(t, f, "", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key: expected 401, got %d", resp.StatusCode)
	}

	resp = upload(t, f, "rwk_unknown", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown key: expected 401, got %d", resp.StatusCode)
	}
}

func TestIngest_MalformedBatch(t *testing.T) {
	f := testServer(t)

	resp := upload(t, f, f.key, []byte(`{"id":`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestIngest_RecordingDisabled(t *testing.T) {
	f := testServer(t)
	if err := f.rw.Projects().SetRecording(context.Background(), f.pid, false); err != nil {
		t.Fatal(err)
	}

	resp := upload(t, f, f.key, wireBatch(t, id.NewSessionID(), click(1, "#a")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestIngest_TooLarge(t *testing.T) {
	f := testServer(t, api.WithMaxBodyBytes(64))

	resp := upload(t, f, f.key, wireBatch(t, id.NewSessionID(), start(0), click(1, "#a"), click(2, "#b")))
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestIngest_Signed(t *testing.T) {
	f := testServer(t, api.WithVerifier(signature.NewVerifier(5*time.Minute)))
	body := wireBatch(t, id.NewSessionID(), click(1, "#a"))

	resp := upload(t, f, f.key, body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned: expected 401, got %d", resp.StatusCode)
	}

	ts := time.Now().Unix()
	resp = upload(t, f, f.key, body,
		transport.HeaderTimestamp, strconv.FormatInt(ts, 10),
		transport.HeaderSignature, signature.Sign(body, f.key, ts),
	)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("signed: expected 202, got %d", resp.StatusCode)
	}
}

func TestIngest_DuplicateIsAccepted(t *testing.T) {
	f := testServer(t)
	body := wireBatch(t, id.NewSessionID(), start(0))

	upload(t, f, f.key, body).Body.Close()
	resp := upload(t, f, f.key, body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 on resend, got %d", resp.StatusCode)
	}
	var res rewind.IngestResult
	decodeBody(t, resp, &res)
	if !res.Duplicate || res.Accepted != 0 {
		t.Fatalf("expected duplicate no-op, got %+v", res)
	}
}

func TestRecorderConfig(t *testing.T) {
	f := testServer(t)
	on := true
	if _, err := f.rw.Projects().Update(context.Background(), f.pid, project.Input{MaskAllInputs: &on}); err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "GET", f.srv.URL+"/recorder-config?key="+f.key, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var settings rewind.RecorderSettings
	decodeBody(t, resp, &settings)
	if !settings.Recorder.MaskAllInputs || settings.Project.ProjectID != f.pid {
		t.Fatalf("unexpected settings %+v", settings)
	}
}

// --- Sessions ---

func TestSessions(t *testing.T) {
	f := testServer(t)
	sid := id.NewSessionID()
	upload(t, f, f.key, wireBatch(t, sid, start(0), click(10, "#a"), click(20, "#b"), click(30, "#c"))).Body.Close()

	// List
	resp := doJSON(t, "GET", f.srv.URL+"/sessions?project_id="+f.pid.String(), nil)
	var list []*session.Session
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].ID != sid {
		t.Fatalf("expected the uploaded session, got %d", len(list))
	}

	// Get
	resp = doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String(), nil)
	var sess session.Session
	decodeBody(t, resp, &sess)
	if sess.ClickCount != 3 || sess.Partial {
		t.Fatalf("unexpected session %+v", sess.Summary)
	}

	// Events, paged.
	var page struct {
		Events []*event.Event `json:"events"`
		Next   string         `json:"next"`
	}
	resp = doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String()+"/events?limit=2", nil)
	decodeBody(t, resp, &page)
	if len(page.Events) != 2 || page.Next == "" {
		t.Fatalf("expected a full first page with a cursor, got %d events", len(page.Events))
	}
	resp = doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String()+"/events?limit=2&after="+page.Next, nil)
	decodeBody(t, resp, &page)
	if len(page.Events) != 2 || page.Events[0].Seq != 3 {
		t.Fatalf("unexpected second page")
	}

	// Type filter
	resp = doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String()+"/events?types=mouse_click", nil)
	decodeBody(t, resp, &page)
	if len(page.Events) != 3 {
		t.Fatalf("expected 3 clicks, got %d", len(page.Events))
	}

	// Replay
	resp = doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String()+"/replay", nil)
	var data rewind.ReplayData
	decodeBody(t, resp, &data)
	if len(data.Events) != 4 || !event.IsSorted(data.Events) {
		t.Fatalf("unexpected replay of %d events", len(data.Events))
	}

	// Close
	resp = doJSON(t, "POST", f.srv.URL+"/sessions/"+sid.String()+"/close", nil)
	decodeBody(t, resp, &sess)
	if sess.EndedAt == nil {
		t.Fatal("expected ended_at after close")
	}
}

func TestSessions_Errors(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "GET", f.srv.URL+"/sessions/"+id.NewSessionID().String(), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session: expected 404, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", f.srv.URL+"/sessions/not-an-id", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: expected 400, got %d", resp.StatusCode)
	}

	sid := id.NewSessionID()
	upload(t, f, f.key, wireBatch(t, sid, start(0))).Body.Close()
	resp = doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String()+"/events?after=garbage", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad cursor: expected 400, got %d", resp.StatusCode)
	}
}

func TestSignals(t *testing.T) {
	f := testServer(t)
	sid := id.NewSessionID()
	upload(t, f, f.key, wireBatch(t, sid,
		start(0),
		click(100, "#buy"), click(300, "#buy"), click(500, "#buy"),
	)).Body.Close()

	resp := doJSON(t, "GET", f.srv.URL+"/sessions/"+sid.String()+"/signals", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rep struct {
		RageClicks []json.RawMessage `json:"rage_clicks"`
	}
	decodeBody(t, resp, &rep)
	if len(rep.RageClicks) != 1 {
		t.Fatalf("expected one rage click cluster, got %d", len(rep.RageClicks))
	}

	resp = doJSON(t, "GET", f.srv.URL+"/signals?project_id="+f.pid.String(), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("project signals: expected 200, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "POST", f.srv.URL+"/error-groups/rebuild", map[string]string{"project_id": f.pid.String()})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rebuild: expected 200, got %d", resp.StatusCode)
	}
}

// --- Definitions & quarantine ---

func TestDefinitions_CRUD(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "POST", f.srv.URL+"/definitions", map[string]any{
		"name":   "checkout.completed",
		"group":  "checkout",
		"schema": map[string]any{"type": "object", "required": []string{"total"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", f.srv.URL+"/definitions?match=checkout.*", nil)
	var defs []map[string]any
	decodeBody(t, resp, &defs)
	if len(defs) != 1 {
		t.Fatalf("expected 1 matching definition, got %d", len(defs))
	}

	resp = doJSON(t, "DELETE", f.srv.URL+"/definitions/checkout.completed", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("deprecate: expected 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "GET", f.srv.URL+"/definitions/missing.event", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing: expected 404, got %d", resp.StatusCode)
	}
}

func TestQuarantine_Replay(t *testing.T) {
	f := testServer(t)

	doJSON(t, "POST", f.srv.URL+"/definitions", map[string]any{"name": "promo.shown"}).Body.Close()
	doJSON(t, "DELETE", f.srv.URL+"/definitions/promo.shown", nil).Body.Close()

	sid := id.NewSessionID()
	resp := upload(t, f, f.key, wireBatch(t, sid, start(0), custom(10, "promo.shown")))
	var res rewind.IngestResult
	decodeBody(t, resp, &res)
	if res.Quarantined != 1 {
		t.Fatalf("expected deprecated event to be quarantined, got %+v", res)
	}

	resp = doJSON(t, "GET", f.srv.URL+"/quarantine?pending=true&session_id="+sid.String(), nil)
	var entries []*quarantine.Entry
	decodeBody(t, resp, &entries)
	if len(entries) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(entries))
	}

	// Still deprecated: replay is refused.
	resp = doJSON(t, "POST", f.srv.URL+"/quarantine/"+entries[0].ID.String()+"/replay", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 while deprecated, got %d", resp.StatusCode)
	}

	doJSON(t, "POST", f.srv.URL+"/definitions", map[string]any{"name": "promo.shown"}).Body.Close()
	resp = doJSON(t, "POST", f.srv.URL+"/quarantine/"+entries[0].ID.String()+"/replay", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d", resp.StatusCode)
	}

	events, err := f.rw.Events(context.Background(), sid, event.ListOpts{Types: []event.Type{event.TypeCustom}})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the replayed event in the stream, got %d", len(events))
	}
}

// --- Projects ---

func TestProjects_CRUD(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "POST", f.srv.URL+"/projects", map[string]any{"name": "docs", "retention_days": 30})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		ID        string `json:"id"`
		IngestKey string `json:"ingest_key"`
	}
	decodeBody(t, resp, &created)
	if !strings.HasPrefix(created.IngestKey, signature.KeyPrefix) {
		t.Fatalf("expected a minted key, got %q", created.IngestKey)
	}

	resp = doJSON(t, "GET", f.srv.URL+"/projects/"+created.ID, nil)
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, leaked := got["ingest_key"]; leaked {
		t.Fatal("ingest key must not be returned by reads")
	}

	resp = doJSON(t, "POST", f.srv.URL+"/projects/"+created.ID+"/rotate-key", nil)
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	if rotated["ingest_key"] == "" || rotated["ingest_key"] == created.IngestKey {
		t.Fatal("expected a new ingest key")
	}

	resp = doJSON(t, "POST", f.srv.URL+"/projects", map[string]any{"name": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid: expected 400, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "DELETE", f.srv.URL+"/projects/"+created.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
}

func TestProjects_Purge(t *testing.T) {
	f := testServer(t)
	upload(t, f, f.key, wireBatch(t, id.NewSessionID(), start(0))).Body.Close()

	resp := doJSON(t, "POST", f.srv.URL+"/projects/"+f.pid.String()+"/purge", map[string]any{
		"before": time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	var out map[string]int
	decodeBody(t, resp, &out)
	if out["purged"] != 1 {
		t.Fatalf("expected 1 purged session, got %d", out["purged"])
	}
}

func TestStats(t *testing.T) {
	f := testServer(t)

	resp := doJSON(t, "GET", f.srv.URL+"/stats", nil)
	var st api.Stats
	decodeBody(t, resp, &st)
	if st.Projects != 1 {
		t.Fatalf("expected 1 project, got %d", st.Projects)
	}
}

// --- Live tail ---

func TestLiveTail(t *testing.T) {
	f := testServer(t)
	sid := id.NewSessionID()
	upload(t, f, f.key, wireBatch(t, sid, start(0))).Body.Close()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + sid.String() + "/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	type frame struct {
		Type    string         `json:"type"`
		Events  []*event.Event `json:"events"`
		LastSeq int64          `json:"last_seq"`
	}

	var backlog frame
	if err := conn.ReadJSON(&backlog); err != nil {
		t.Fatalf("read backlog: %v", err)
	}
	if backlog.Type != "backlog" || len(backlog.Events) != 1 || backlog.LastSeq != 1 {
		t.Fatalf("unexpected backlog %+v", backlog)
	}

	upload(t, f, f.key, wireBatch(t, sid, click(10, "#a"), click(20, "#b"))).Body.Close()

	var live frame
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read events: %v", err)
	}
	if live.Type != "events" || len(live.Events) != 2 || live.Events[0].Seq != 2 {
		t.Fatalf("unexpected live frame %+v", live)
	}
}

func TestLiveTail_UnknownSession(t *testing.T) {
	f := testServer(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/sessions/" + id.NewSessionID().String() + "/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404")
	}
	resp.Body.Close()
}
