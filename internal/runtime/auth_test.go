package runtime

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ainexus/herald/config"
)

func protectedEcho(secret []byte) echo.HandlerFunc {
	return EchoAuthMiddleware(secret)(func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get("user_id").(string))
	})
}

func TestSignJWTRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-9", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := protectedEcho(secret)(ctx); err != nil {
		t.Fatalf("middleware rejected valid token: %v", err)
	}
	if rec.Body.String() != "user-9" {
		t.Fatalf("user_id = %q", rec.Body.String())
	}
	if sub, ok := SubjectFromContext(ctx.Request().Context()); !ok || sub != "user-9" {
		t.Fatalf("subject not propagated to request context")
	}
}

func TestMiddlewareAcceptsCookie(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-3", secret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "auth", Value: tok})
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := protectedEcho(secret)(ctx); err != nil {
		t.Fatalf("middleware rejected cookie token: %v", err)
	}
	if rec.Body.String() != "user-3" {
		t.Fatalf("user_id = %q", rec.Body.String())
	}
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err := protectedEcho([]byte("test-secret"))(ctx)
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %#v", err)
	}
}

func TestMiddlewareRejectsWrongSecret(t *testing.T) {
	tok, err := SignJWT("user-9", []byte("other-secret"), time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err = protectedEcho([]byte("test-secret"))(ctx)
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %#v", err)
	}
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	tok, err := SignJWT("user-9", secret, -time.Minute)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	err = protectedEcho(secret)(ctx)
	if err == nil {
		t.Fatalf("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 error, got %#v", err)
	}
}

func TestLoadJWTSecret(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.JWTSecret = "configured"
	secret, err := LoadJWTSecret(cfg)
	if err != nil {
		t.Fatalf("LoadJWTSecret: %v", err)
	}
	if string(secret) != "configured" {
		t.Fatalf("secret = %q", secret)
	}

	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}
