package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader is the header carrying the request id on requests and
// responses.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the echo context key the id is stored under. Logger and
// Recovery read it back through RequestIDFrom.
const requestIDKey = "request_id"

// RequestID returns middleware that propagates an incoming X-Request-ID
// header, or generates a fresh id when the client sent none. The id is echoed
// back on the response so partner webhook deliveries and portal calls can be
// correlated with server logs.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set(requestIDKey, rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}

// RequestIDFrom returns the request id stored by RequestID, or "" when the
// middleware has not run.
func RequestIDFrom(c echo.Context) string {
	rid, _ := c.Get(requestIDKey).(string)
	return rid
}
