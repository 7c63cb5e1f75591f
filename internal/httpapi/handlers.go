package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"callplane/internal/auth"
	"callplane/internal/session"
	"callplane/internal/signaling"
	"callplane/internal/suggest"
	"callplane/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallController is the session surface exposed over HTTP.
type CallController interface {
	Snapshot() session.Snapshot
	Create(ctx context.Context, req signaling.CreateRoomRequest) (session.Snapshot, error)
	Join(ctx context.Context, roomID string) (session.Snapshot, error)
	End(ctx context.Context) error
	Dismiss() error
	ToggleMute(ctx context.Context) (bool, error)
	ToggleCamera(ctx context.Context) (bool, error)
	ToggleSpeaker(ctx context.Context) (bool, error)
}

// SnapshotSource is satisfied by the session event bus.
type SnapshotSource interface {
	Subscribe(fn func(session.Snapshot)) (unsubscribe func())
}

type Suggestions interface {
	GetSuggestions(roomID string) suggest.Result
	Accept(ctx context.Context, id string) error
	Reject(ctx context.Context, id string) error
	AcceptAll(ctx context.Context, roomID string) (int, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Calls       CallController
	Events      SnapshotSource
	Suggestions Suggestions

	// Done ends open event streams when closed. Nil keeps them open until the client leaves.
	Done <-chan struct{}
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"name"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair. It does not validate credentials and is only mounted outside production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.DisplayName, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Call ---

type snapshotView struct {
	session.Snapshot
	Duration string `json:"duration"`
}

func viewOf(s session.Snapshot) snapshotView {
	return snapshotView{Snapshot: s, Duration: session.FormatDuration(s.DurationSeconds)}
}

type createCallRequest struct {
	TargetUserID string `json:"target_user_id"`
	ProjectID    string `json:"project_id,omitempty"`
	Title        string `json:"title,omitempty"`
}

type joinCallRequest struct {
	RoomID string `json:"room_id"`
}

func (h Handlers) GetCall(c *gin.Context) {
	c.JSON(http.StatusOK, viewOf(h.Calls.Snapshot()))
}

func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	snap, err := h.Calls.Create(c.Request.Context(), signaling.CreateRoomRequest{
		TargetUserID: req.TargetUserID,
		ProjectID:    req.ProjectID,
		Title:        req.Title,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, viewOf(snap))
}

func (h Handlers) JoinCall(c *gin.Context) {
	var req joinCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	snap, err := h.Calls.Join(c.Request.Context(), req.RoomID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, viewOf(snap))
}

func (h Handlers) EndCall(c *gin.Context) {
	if err := h.Calls.End(c.Request.Context()); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(h.Calls.Snapshot()))
}

func (h Handlers) DismissCall(c *gin.Context) {
	if err := h.Calls.Dismiss(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(h.Calls.Snapshot()))
}

func (h Handlers) ToggleMute(c *gin.Context) {
	h.toggle(c, "is_muted", h.Calls.ToggleMute)
}

func (h Handlers) ToggleCamera(c *gin.Context) {
	h.toggle(c, "is_camera_on", h.Calls.ToggleCamera)
}

func (h Handlers) ToggleSpeaker(c *gin.Context) {
	h.toggle(c, "is_speaker_on", h.Calls.ToggleSpeaker)
}

func (h Handlers) toggle(c *gin.Context, field string, fn func(context.Context) (bool, error)) {
	v, err := fn(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{field: v})
}

// CallEvents streams snapshots as server-sent events. A slow client skips intermediate
// snapshots but always receives the latest one.
func (h Handlers) CallEvents(c *gin.Context) {
	ch := make(chan session.Snapshot, 16)
	unsubscribe := h.Events.Subscribe(func(s session.Snapshot) {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	})
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.Done:
			return false
		case s := <-ch:
			c.SSEvent("snapshot", viewOf(s))
			return true
		}
	})
	logger.FromGin(c).Debug("event stream closed")
}

// --- Suggestions ---

func (h Handlers) GetSuggestions(c *gin.Context) {
	roomID := c.Param("room_id")
	if roomID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_id required"})
		return
	}
	c.JSON(http.StatusOK, h.Suggestions.GetSuggestions(roomID))
}

func (h Handlers) AcceptSuggestion(c *gin.Context) {
	h.decide(c, h.Suggestions.Accept)
}

func (h Handlers) RejectSuggestion(c *gin.Context) {
	h.decide(c, h.Suggestions.Reject)
}

func (h Handlers) decide(c *gin.Context, fn func(context.Context, string) error) {
	id := c.Param("id")
	if err := fn(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h Handlers) AcceptAllSuggestions(c *gin.Context) {
	n, err := h.Suggestions.AcceptAll(c.Request.Context(), c.Param("room_id"))
	if err != nil {
		// Partial batches still report how many went through.
		status := statusFor(err)
		if n > 0 {
			status = http.StatusMultiStatus
		}
		logger.FromGin(c).Warn("accept all incomplete", "accepted", n, "err", err)
		c.AbortWithStatusJSON(status, gin.H{"accepted": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": n})
}

// --- Errors ---

func statusFor(err error) int {
	var remote *signaling.RemoteError
	switch {
	case errors.Is(err, session.ErrInvalidArgument),
		errors.Is(err, suggest.ErrInvalidArgument),
		errors.Is(err, signaling.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionActive),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrSessionCancelled),
		errors.Is(err, suggest.ErrAlreadyDecided),
		errors.Is(err, signaling.ErrRoomUnavailable):
		return http.StatusConflict
	case errors.Is(err, suggest.ErrNotFound),
		errors.Is(err, signaling.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, signaling.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, signaling.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.As(err, &remote),
		errors.Is(err, signaling.ErrNotConnected),
		errors.Is(err, session.ErrTransportDisconnected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
