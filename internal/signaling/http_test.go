package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"callplane/internal/auth"
	"callplane/pkg/logger"
)

func newGatewayServer(t *testing.T, fn http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL + "/functions/v1/"}, logger.Discard())
}

func TestCreateRoom_SendsCallerTokenAndParsesGrant(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"room":{"id":"r1","roomName":"call-r1","title":"Standup","status":"active"},"token":"tok","wsUrl":"wss://media.example/rtc"}`))
	})

	ctx := auth.WithAccessToken(context.Background(), "user-jwt")
	grant, err := g.CreateRoom(ctx, CreateRoomRequest{TargetUserID: "u2", Title: "Standup"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if gotPath != "/functions/v1/call-room-create" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer user-jwt" {
		t.Fatalf("expected caller token, got %q", gotAuth)
	}
	if gotBody["targetUserId"] != "u2" || gotBody["title"] != "Standup" {
		t.Fatalf("unexpected body %v", gotBody)
	}
	if _, ok := gotBody["projectId"]; ok {
		t.Fatalf("expected projectId omitted when empty")
	}
	if grant.Room.ID != "r1" || grant.Room.RoomName != "call-r1" {
		t.Fatalf("unexpected room %+v", grant.Room)
	}
	if grant.Credentials.Token != "tok" || grant.Credentials.SignalingURL != "wss://media.example/rtc" {
		t.Fatalf("unexpected credentials %+v", grant.Credentials)
	}
}

func TestCreateRoom_NoTokenFailsWithoutRequest(t *testing.T) {
	called := false
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	_, err := g.CreateRoom(context.Background(), CreateRoomRequest{TargetUserID: "u2"})
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if called {
		t.Fatalf("expected no request without a token")
	}
}

func TestCreateRoom_RequiresTarget(t *testing.T) {
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {})
	if _, err := g.CreateRoom(context.Background(), CreateRoomRequest{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestJoinRoom_MapsStatusToSentinel(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthenticated},
		{http.StatusForbidden, ErrAccessDenied},
		{http.StatusNotFound, ErrRoomNotFound},
		{http.StatusGone, ErrRoomNotFound},
		{http.StatusConflict, ErrRoomUnavailable},
	}
	for _, tc := range cases {
		g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		})
		ctx := auth.WithAccessToken(context.Background(), "t")
		_, err := g.JoinRoom(ctx, "r1")
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		var re *RemoteError
		if !errors.As(err, &re) || re.Message != "nope" {
			t.Fatalf("status %d: expected remote error message, got %v", tc.status, err)
		}
	}
}

func TestJoinRoom_ErrorFieldOn200IsFailure(t *testing.T) {
	g := newGatewayServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"room is full"}`))
	})
	ctx := auth.WithAccessToken(context.Background(), "t")
	if _, err := g.JoinRoom(ctx, "r1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEndRoom_SendsPayloadAndUsesAPIKeyFallback(t *testing.T) {
	var gotAuth string
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewHTTPGateway(HTTPGatewayConfig{BaseURL: srv.URL, APIKey: "service-key"}, logger.Discard())
	if err := g.EndRoom(context.Background(), "r1", "UklGRg=="); err != nil {
		t.Fatalf("end: %v", err)
	}
	if gotAuth != "Bearer service-key" {
		t.Fatalf("expected api key fallback, got %q", gotAuth)
	}
	if body["roomId"] != "r1" || body["audioBlob"] != "UklGRg==" {
		t.Fatalf("unexpected body %v", body)
	}

	body = nil
	if err := g.EndRoom(context.Background(), "r1", ""); err != nil {
		t.Fatalf("end without payload: %v", err)
	}
	if _, ok := body["audioBlob"]; ok {
		t.Fatalf("expected audioBlob omitted without payload")
	}
}
