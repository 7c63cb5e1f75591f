package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"callplane/internal/auth"
	"callplane/pkg/logger"
)

const maxResponseBytes = 1 << 20

// HTTPGateway calls the room service functions call-room-create, call-room-join and call-room-end.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *slog.Logger
}

type HTTPGatewayConfig struct {
	BaseURL string
	// APIKey is the fallback bearer token when the request context carries none.
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPGateway(cfg HTTPGatewayConfig, log *slog.Logger) *HTTPGateway {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		log:     logger.OrDefault(log),
	}
}

type grantResponse struct {
	Room  *Room  `json:"room"`
	Token string `json:"token"`
	WSURL string `json:"wsUrl"`
	Error string `json:"error"`
}

func (g *HTTPGateway) CreateRoom(ctx context.Context, req CreateRoomRequest) (Grant, error) {
	if strings.TrimSpace(req.TargetUserID) == "" {
		return Grant{}, fmt.Errorf("%w: target user id required", ErrInvalidArgument)
	}
	var resp grantResponse
	if err := g.post(ctx, "call-room-create", req, &resp); err != nil {
		return Grant{}, err
	}
	return resp.grant("call-room-create")
}

func (g *HTTPGateway) JoinRoom(ctx context.Context, roomID string) (Grant, error) {
	if strings.TrimSpace(roomID) == "" {
		return Grant{}, fmt.Errorf("%w: room id required", ErrInvalidArgument)
	}
	var resp grantResponse
	body := struct {
		RoomID string `json:"roomId"`
	}{roomID}
	if err := g.post(ctx, "call-room-join", body, &resp); err != nil {
		return Grant{}, err
	}
	return resp.grant("call-room-join")
}

func (g *HTTPGateway) EndRoom(ctx context.Context, roomID, payload string) error {
	if strings.TrimSpace(roomID) == "" {
		return fmt.Errorf("%w: room id required", ErrInvalidArgument)
	}
	body := struct {
		RoomID    string `json:"roomId"`
		AudioBlob string `json:"audioBlob,omitempty"`
	}{roomID, payload}
	var ack struct {
		Error string `json:"error"`
	}
	if err := g.post(ctx, "call-room-end", body, &ack); err != nil {
		return err
	}
	if ack.Error != "" {
		return &RemoteError{Op: "call-room-end", Status: http.StatusOK, Message: ack.Error}
	}
	return nil
}

func (r grantResponse) grant(op string) (Grant, error) {
	if r.Error != "" {
		return Grant{}, &RemoteError{Op: op, Status: http.StatusOK, Message: r.Error}
	}
	if r.Room == nil || r.Room.ID == "" || r.Token == "" || r.WSURL == "" {
		return Grant{}, &RemoteError{Op: op, Status: http.StatusOK, Message: "incomplete room grant"}
	}
	return Grant{
		Room:        *r.Room,
		Credentials: Credentials{Token: r.Token, SignalingURL: r.WSURL},
	}, nil
}

func (g *HTTPGateway) post(ctx context.Context, fn string, in, out any) error {
	token := auth.AccessToken(ctx)
	if token == "" {
		token = g.apiKey
	}
	if token == "" {
		return fmt.Errorf("%s: %w", fn, ErrUnauthenticated)
	}

	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", fn, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+fn, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", fn, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", fn, err)
	}
	g.log.Debug("signaling request", "fn", fn, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		return &RemoteError{Op: fn, Status: resp.StatusCode, Message: e.Error}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", fn, err)
	}
	return nil
}
