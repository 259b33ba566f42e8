package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"

	"github.com/katsuma/jukeboxx/internal/domain"
	"github.com/katsuma/jukeboxx/internal/httpserver/deps"
	"github.com/katsuma/jukeboxx/internal/httpserver/mw"
	"github.com/katsuma/jukeboxx/internal/logger"
	"github.com/katsuma/jukeboxx/internal/playlist"
	redisstore "github.com/katsuma/jukeboxx/internal/store/redis"
)

type titleFetcher struct{}

func (titleFetcher) Fetch(_ context.Context, videoRef string) domain.VideoInfo {
	return domain.VideoInfo{Title: "Title " + videoRef, ThumbnailURL: domain.DefaultThumbnailURL(videoRef)}
}

func newTestDeps(t *testing.T, client *goredis.Client) deps.Deps {
	t.Helper()
	log := logger.Nop()
	store := redisstore.NewStore(client, log)
	registry := playlist.NewRegistry(context.Background(), store, titleFetcher{}, log)
	t.Cleanup(registry.CloseAll)

	return deps.Deps{
		Logger:        log,
		StartTime:     time.Now(),
		TimeNow:       time.Now,
		Store:         store,
		Registry:      registry,
		SubmitLimiter: mw.NewRateLimiter(mw.RateLimitConfig{Burst: 100, RefillPerIPPerMin: 100}),
	}
}

func newTestServer(t *testing.T, d deps.Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(d.Logger, d))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func TestProbes(t *testing.T) {
	srv := newTestServer(t, newTestDeps(t, nil))

	resp := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, http.MethodGet, srv.URL+"/readyz", nil)
	expectStatus(t, resp, http.StatusOK)
	ready := decode[map[string]any](t, resp)
	if ready["mode"] != "local-only" {
		t.Errorf("readyz mode = %v, want local-only", ready["mode"])
	}

	resp = do(t, http.MethodGet, srv.URL+"/infra", nil)
	expectStatus(t, resp, http.StatusOK)
	infra := decode[map[string]any](t, resp)
	if infra["sync_mode"] != "local-only" {
		t.Errorf("infra sync_mode = %v, want local-only", infra["sync_mode"])
	}

	resp = do(t, http.MethodPost, srv.URL+"/reload", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestReloadTrigger(t *testing.T) {
	d := newTestDeps(t, nil)
	d.ReloadTrigger = make(chan struct{}, 1)
	srv := newTestServer(t, d)

	expectStatus(t, do(t, http.MethodPost, srv.URL+"/reload", nil), http.StatusAccepted)
	expectStatus(t, do(t, http.MethodPost, srv.URL+"/reload", nil), http.StatusTooManyRequests)
}

func TestCreateQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	d := newTestDeps(t, client)
	srv := newTestServer(t, d)

	resp := do(t, http.MethodPost, srv.URL+"/api/queues", map[string]string{"name": "  Friday  "})
	expectStatus(t, resp, http.StatusCreated)
	created := decode[map[string]string](t, resp)
	if created["name"] != "Friday" || created["id"] == "" || created["path"] != "/"+created["id"] {
		t.Fatalf("created = %v", created)
	}

	resp = do(t, http.MethodGet, srv.URL+"/api/queues/"+created["id"], nil)
	expectStatus(t, resp, http.StatusOK)
	snap := decode[playlist.Snapshot](t, resp)
	if snap.Meta.Name != "Friday" || !snap.Synced {
		t.Errorf("snapshot meta = %+v synced = %v", snap.Meta, snap.Synced)
	}

	expectStatus(t, do(t, http.MethodPost, srv.URL+"/api/queues", map[string]string{"name": "   "}), http.StatusBadRequest)

	mr.Close()
	expectStatus(t, do(t, http.MethodPost, srv.URL+"/api/queues", map[string]string{"name": "Late"}), http.StatusBadGateway)
}

func TestQueueLifecycle(t *testing.T) {
	d := newTestDeps(t, nil)
	srv := newTestServer(t, d)
	base := srv.URL + "/api/queues/lobby"

	resp := do(t, http.MethodGet, base, nil)
	expectStatus(t, resp, http.StatusOK)
	if snap := decode[playlist.Snapshot](t, resp); snap.Meta.Name != domain.UnnamedQueue {
		t.Errorf("meta name = %q, want %q", snap.Meta.Name, domain.UnnamedQueue)
	}

	expectStatus(t, do(t, http.MethodPost, base+"/queue", map[string]string{"url": "https://evil.com/watch?v=aaa"}), http.StatusBadRequest)

	resp = do(t, http.MethodPost, base+"/queue", map[string]string{"url": "https://youtu.be/aaa"})
	expectStatus(t, resp, http.StatusAccepted)
	first := decode[domain.Entry](t, resp)
	if first.VideoRef != "aaa" {
		t.Fatalf("entry = %+v", first)
	}

	resp = do(t, http.MethodPost, base+"/queue", map[string]string{"url": "https://youtu.be/bbb"})
	expectStatus(t, resp, http.StatusAccepted)
	second := decode[domain.Entry](t, resp)

	resp = do(t, http.MethodPost, base+"/advance", nil)
	expectStatus(t, resp, http.StatusOK)
	snap := decode[playlist.Snapshot](t, resp)
	if snap.Current == nil || snap.Current.ID != second.ID {
		t.Fatalf("after advance current = %+v, want %s", snap.Current, second.ID)
	}
	if len(snap.History) != 1 || snap.History[0].ID != first.ID {
		t.Fatalf("after advance history = %+v", snap.History)
	}

	resp = do(t, http.MethodPut, base+"/current/title", map[string]string{"title": "Observed"})
	expectStatus(t, resp, http.StatusOK)

	resp = do(t, http.MethodPost, base+"/history/"+first.ID+"/requeue", nil)
	expectStatus(t, resp, http.StatusAccepted)
	requeued := decode[domain.Entry](t, resp)
	if requeued.ID == first.ID || requeued.SourceURL != first.SourceURL {
		t.Errorf("requeued = %+v", requeued)
	}
	expectStatus(t, do(t, http.MethodPost, base+"/history/"+first.ID+"/requeue", nil), http.StatusNotFound)

	expectStatus(t, do(t, http.MethodDelete, base+"/queue/"+requeued.ID, nil), http.StatusNoContent)
	expectStatus(t, do(t, http.MethodDelete, base+"/queue/"+requeued.ID, nil), http.StatusNotFound)

	resp = do(t, http.MethodPost, base+"/finished", map[string]string{"entryId": second.ID})
	expectStatus(t, resp, http.StatusOK)
	snap = decode[playlist.Snapshot](t, resp)
	if snap.Current != nil {
		t.Errorf("current after finished = %+v, want none", snap.Current)
	}
	if len(snap.History) != 1 || snap.History[0].ID != second.ID || snap.History[0].Title != "Observed" {
		t.Errorf("history after finished = %+v", snap.History)
	}

	expectStatus(t, do(t, http.MethodDelete, base+"/history/"+second.ID, nil), http.StatusNoContent)

	do(t, http.MethodPost, base+"/queue", map[string]string{"url": "https://youtu.be/ccc"})
	do(t, http.MethodPost, base+"/queue", map[string]string{"url": "https://youtu.be/ddd"})
	expectStatus(t, do(t, http.MethodDelete, base+"/queue", nil), http.StatusNoContent)

	resp = do(t, http.MethodGet, base, nil)
	snap = decode[playlist.Snapshot](t, resp)
	if len(snap.Pending) != 0 {
		t.Errorf("pending after clear = %+v", snap.Pending)
	}

	expectStatus(t, do(t, http.MethodGet, srv.URL+"/api/queues/bad%20id", nil), http.StatusBadRequest)
}

func TestSubmitRateLimited(t *testing.T) {
	d := newTestDeps(t, nil)
	d.SubmitLimiter = mw.NewRateLimiter(mw.RateLimitConfig{Burst: 1, RefillPerIPPerMin: 1})
	srv := newTestServer(t, d)
	url := srv.URL + "/api/queues/lobby/queue"

	expectStatus(t, do(t, http.MethodPost, url, map[string]string{"url": "https://youtu.be/aaa"}), http.StatusAccepted)
	expectStatus(t, do(t, http.MethodPost, url, map[string]string{"url": "https://youtu.be/bbb"}), http.StatusTooManyRequests)
}

type wsMessage struct {
	Type  string            `json:"type"`
	Data  playlist.Snapshot `json:"data"`
	Error string            `json:"error"`
}

func dialQueue(t *testing.T, srv *httptest.Server, queueID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/queues/" + queueID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil returns the first message satisfying ok.
func readUntil(t *testing.T, conn *websocket.Conn, ok func(wsMessage) bool) wsMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ok(msg) {
			return msg
		}
	}
}

func TestStream(t *testing.T) {
	d := newTestDeps(t, nil)
	srv := newTestServer(t, d)

	viewer := dialQueue(t, srv, "party")
	first := readUntil(t, viewer, func(m wsMessage) bool { return m.Type == "snapshot" })
	if first.Data.QueueID != "party" {
		t.Fatalf("first snapshot = %+v", first.Data)
	}

	remote := dialQueue(t, srv, "party")
	readUntil(t, remote, func(m wsMessage) bool { return m.Type == "snapshot" })

	if err := remote.WriteJSON(map[string]string{"type": "submit", "url": "https://youtu.be/aaa"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readUntil(t, viewer, func(m wsMessage) bool {
		return m.Type == "snapshot" && m.Data.Current != nil && m.Data.Current.Title == "Title aaa"
	})
	if got.Data.Current.VideoRef != "aaa" {
		t.Errorf("current = %+v", got.Data.Current)
	}

	if err := remote.WriteJSON(map[string]string{"type": "submit", "url": "not a url"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	errMsg := readUntil(t, remote, func(m wsMessage) bool { return m.Type == "error" })
	if errMsg.Error != domain.ErrInvalidURL.Error() {
		t.Errorf("error = %q, want %q", errMsg.Error, domain.ErrInvalidURL.Error())
	}

	if err := remote.WriteJSON(map[string]string{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, remote, func(m wsMessage) bool { return m.Type == "error" })

	if err := viewer.WriteJSON(map[string]string{"type": "finished", "entryId": got.Data.Current.ID}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, remote, func(m wsMessage) bool {
		return m.Type == "snapshot" && m.Data.Current == nil && len(m.Data.History) == 1
	})
}

func TestStreamClosesWithQueue(t *testing.T) {
	d := newTestDeps(t, nil)
	srv := newTestServer(t, d)

	conn := dialQueue(t, srv, "closing")
	readUntil(t, conn, func(m wsMessage) bool { return m.Type == "snapshot" })

	d.Registry.CloseAll()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
				t.Errorf("read error = %v, want going away close", err)
			}
			return
		}
	}
}

func TestStreamOriginAllowList(t *testing.T) {
	d := newTestDeps(t, nil)
	d.AllowedOrigins = []string{"https://jukebox.example"}
	srv := newTestServer(t, d)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/queues/lobby/ws"

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("Expected error dialing with bad origin, got nil")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 Forbidden, got %v", resp)
	}

	header.Set("Origin", "https://jukebox.example")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Failed to dial with allowed origin: %v", err)
	}
	_ = conn.Close()
}
