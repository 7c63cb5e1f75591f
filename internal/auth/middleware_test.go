package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callplane/internal/config"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T) (*gin.Engine, TokenPair) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	pair, err := m.IssuePair(time.Now(), "user-1", "Ada", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	r := gin.New()
	r.GET("/x", RequireAccessToken(m), func(c *gin.Context) {
		uid, _ := UserID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "token": AccessToken(c.Request.Context())})
	})
	r.POST("/x", RequireAccessToken(m), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, pair
}

func TestRequireAccessToken_HeaderStoresIdentityAndToken(t *testing.T) {
	r, pair := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if want := `"token":"` + pair.AccessToken + `"`; !strings.Contains(body, want) {
		t.Fatalf("expected token forwarded in ctx, got %s", body)
	}
}

func TestRequireAccessToken_QueryTokenOnlyForGET(t *testing.T) {
	r, pair := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x?access_token="+pair.AccessToken, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for GET with query token, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x?access_token="+pair.AccessToken, nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for POST with query token, got %d", w.Code)
	}
}

func TestRequireAccessToken_RejectsRefreshToken(t *testing.T) {
	r, pair := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+pair.RefreshToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
