package middleware

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/trainu/coach-inbox/internal/crmsync"
)

// BearerSecret gates cron and maintenance routes behind a shared secret.
// An unset secret locks the routes.
func BearerSecret(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			return next(c)
		}
	}
}

const ctxRawBody = "raw_body"

// RawBodyFromCtx returns the body captured by WebhookSignature.
func RawBodyFromCtx(c echo.Context) []byte {
	b, _ := c.Get(ctxRawBody).([]byte)
	return b
}

// WebhookSignature verifies the HMAC-SHA256 of the raw body against header.
// The body is kept on the context and restored for later readers.
func WebhookSignature(secret, header string, maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBytes+1))
			if err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			}
			if int64(len(body)) > maxBytes {
				return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "payload too large"})
			}
			if !crmsync.VerifySignature(secret, body, c.Request().Header.Get(header)) {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
			}
			c.Set(ctxRawBody, body)
			c.Request().Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}
