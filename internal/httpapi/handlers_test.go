package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callplane/internal/events"
	"callplane/internal/session"
	"callplane/internal/signaling"
	"callplane/internal/suggest"
	"callplane/pkg/logger"

	"github.com/gin-gonic/gin"
)

type fakeCalls struct {
	snap      session.Snapshot
	createErr error
	created   signaling.CreateRoomRequest
	joined    string
	ended     int
	muted     bool
}

func (f *fakeCalls) Snapshot() session.Snapshot { return f.snap }

func (f *fakeCalls) Create(ctx context.Context, req signaling.CreateRoomRequest) (session.Snapshot, error) {
	f.created = req
	if f.createErr != nil {
		return f.snap, f.createErr
	}
	f.snap.Status = session.StatusConnecting
	f.snap.Room = &signaling.Room{ID: "r1"}
	return f.snap, nil
}

func (f *fakeCalls) Join(ctx context.Context, roomID string) (session.Snapshot, error) {
	if roomID == "" {
		return f.snap, fmt.Errorf("%w: room id required", session.ErrInvalidArgument)
	}
	f.joined = roomID
	f.snap.Status = session.StatusConnecting
	return f.snap, nil
}

func (f *fakeCalls) End(ctx context.Context) error {
	f.ended++
	f.snap = session.IdleSnapshot()
	return nil
}

func (f *fakeCalls) Dismiss() error {
	if f.snap.Status != session.StatusError {
		return fmt.Errorf("dismiss: %w", session.ErrInvalidTransition)
	}
	f.snap = session.IdleSnapshot()
	return nil
}

func (f *fakeCalls) ToggleMute(ctx context.Context) (bool, error) {
	f.muted = !f.muted
	return f.muted, nil
}

func (f *fakeCalls) ToggleCamera(ctx context.Context) (bool, error) {
	return false, signaling.ErrNotConnected
}

func (f *fakeCalls) ToggleSpeaker(ctx context.Context) (bool, error) { return true, nil }

func newRouter(h Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(logger.Middleware(logger.Discard()))
	r.GET("/v1/call", h.GetCall)
	r.GET("/v1/call/events", h.CallEvents)
	r.POST("/v1/call/create", h.CreateCall)
	r.POST("/v1/call/join", h.JoinCall)
	r.POST("/v1/call/end", h.EndCall)
	r.POST("/v1/call/dismiss", h.DismissCall)
	r.POST("/v1/call/mute", h.ToggleMute)
	r.POST("/v1/call/camera", h.ToggleCamera)
	r.POST("/v1/call/speaker", h.ToggleSpeaker)
	r.GET("/v1/rooms/:room_id/suggestions", h.GetSuggestions)
	r.POST("/v1/rooms/:room_id/suggestions/accept-all", h.AcceptAllSuggestions)
	r.POST("/v1/suggestions/:id/accept", h.AcceptSuggestion)
	r.POST("/v1/suggestions/:id/reject", h.RejectSuggestion)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetCall_IncludesFormattedDuration(t *testing.T) {
	calls := &fakeCalls{snap: session.IdleSnapshot()}
	calls.snap.Status = session.StatusActive
	calls.snap.DurationSeconds = 65
	r := newRouter(Handlers{Calls: calls})

	w := do(r, http.MethodGet, "/v1/call", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["duration"] != "01:05" || body["status"] != "active" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCreateCall_PassesRequestAndMapsErrors(t *testing.T) {
	calls := &fakeCalls{snap: session.IdleSnapshot()}
	r := newRouter(Handlers{Calls: calls})

	w := do(r, http.MethodPost, "/v1/call/create", `{"target_user_id":"u-2","title":"sync"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if calls.created.TargetUserID != "u-2" || calls.created.Title != "sync" {
		t.Fatalf("unexpected request %+v", calls.created)
	}

	calls.createErr = session.ErrSessionActive
	if w := do(r, http.MethodPost, "/v1/call/create", `{"target_user_id":"u-2"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	calls.createErr = fmt.Errorf("session: create room: %w", &signaling.RemoteError{Op: "create", Status: 403, Message: "nope"})
	if w := do(r, http.MethodPost, "/v1/call/create", `{"target_user_id":"u-2"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/call/create", `{`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestJoinEndDismiss(t *testing.T) {
	calls := &fakeCalls{snap: session.IdleSnapshot()}
	r := newRouter(Handlers{Calls: calls})

	if w := do(r, http.MethodPost, "/v1/call/join", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/call/join", `{"room_id":"r9"}`); w.Code != http.StatusAccepted || calls.joined != "r9" {
		t.Fatalf("join failed: %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/call/end", ""); w.Code != http.StatusOK || calls.ended != 1 {
		t.Fatalf("end failed: %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/call/dismiss", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 dismissing idle, got %d", w.Code)
	}
}

func TestToggles(t *testing.T) {
	calls := &fakeCalls{snap: session.IdleSnapshot()}
	r := newRouter(Handlers{Calls: calls})

	w := do(r, http.MethodPost, "/v1/call/mute", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"is_muted":true`) {
		t.Fatalf("unexpected mute response %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/v1/call/camera", ""); w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestSuggestionRoutes(t *testing.T) {
	repo := suggest.NewMemoryRepo(
		suggest.Suggestion{ID: "a", RoomID: "r1", Type: suggest.TypeTodo, Status: suggest.StatusPending},
		suggest.Suggestion{ID: "b", RoomID: "r1", Type: suggest.TypeNote, Status: suggest.StatusPending},
		suggest.Suggestion{ID: "c", RoomID: "r1", Type: suggest.TypeEvent, Status: suggest.StatusRejected},
	)
	ret := suggest.NewRetriever(repo, suggest.Options{Interval: time.Millisecond}, nil, logger.Discard())
	ret.Poll(context.Background(), "r1", time.Minute)
	r := newRouter(Handlers{Suggestions: ret})

	w := do(r, http.MethodGet, "/v1/rooms/r1/suggestions", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"state":"found"`) {
		t.Fatalf("unexpected list response %d %s", w.Code, w.Body.String())
	}
	if w := do(r, http.MethodPost, "/v1/suggestions/a/reject", ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/suggestions/a/accept", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on conflicting decision, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/suggestions/zzz/accept", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	w = do(r, http.MethodPost, "/v1/rooms/r1/suggestions/accept-all", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"accepted":1`) {
		t.Fatalf("unexpected accept-all response %d %s", w.Code, w.Body.String())
	}
}

func TestAcceptAll_PartialFailureIsMultiStatus(t *testing.T) {
	repo := suggest.NewMemoryRepo(
		suggest.Suggestion{ID: "a", RoomID: "r1", Status: suggest.StatusPending},
		suggest.Suggestion{ID: "b", RoomID: "r1", Status: suggest.StatusPending},
	)
	repo.SetErr = map[string]error{"b": errors.New("db timeout")}
	ret := suggest.NewRetriever(repo, suggest.Options{}, nil, logger.Discard())
	r := newRouter(Handlers{Suggestions: ret})

	w := do(r, http.MethodPost, "/v1/rooms/r1/suggestions/accept-all", "")
	if w.Code != http.StatusMultiStatus || !strings.Contains(w.Body.String(), `"accepted":1`) {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
}

func TestCallEvents_StreamsCurrentSnapshotFirst(t *testing.T) {
	initial := session.IdleSnapshot()
	initial.Status = session.StatusActive
	initial.DurationSeconds = 3
	bus := events.NewBus(initial, logger.Discard())
	srv := httptest.NewServer(newRouter(Handlers{Events: bus}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/call/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	rd := bufio.NewReader(resp.Body)
	first := readData(t, rd)
	if !strings.Contains(first, `"status":"active"`) || !strings.Contains(first, `"duration":"00:03"`) {
		t.Fatalf("unexpected first event %s", first)
	}

	next := session.IdleSnapshot()
	bus.Publish(next)
	if second := readData(t, rd); !strings.Contains(second, `"status":"idle"`) {
		t.Fatalf("unexpected second event %s", second)
	}
}

func TestCallEvents_ClosesWhenDone(t *testing.T) {
	bus := events.NewBus(session.IdleSnapshot(), logger.Discard())
	done := make(chan struct{})
	srv := httptest.NewServer(newRouter(Handlers{Events: bus, Done: done}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/call/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	rd := bufio.NewReader(resp.Body)
	readData(t, rd)
	close(done)
	if _, err := io.ReadAll(rd); err != nil {
		t.Fatalf("expected stream to end, got %v", err)
	}
}

func readData(t *testing.T, rd *bufio.Reader) string {
	t.Helper()
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{session.ErrSessionActive, http.StatusConflict},
		{suggest.ErrNotFound, http.StatusNotFound},
		{signaling.ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("x: %w", suggest.ErrAlreadyDecided), http.StatusConflict},
		{&signaling.RemoteError{Op: "end", Status: 500}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Fatalf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
