package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/vibe/internal/metrics"
)

// RequestLog logs one line per request and records it in rec. Echo's
// HTTPErrorHandler is invoked first for handler errors so the logged status
// is the one the client saw.
func RequestLog(log logrus.FieldLogger, rec metrics.Recorder) echo.MiddlewareFunc {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			latency := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			rec.RecordRequest(c.Request().Method, route, status, latency)

			entry := log.WithFields(logrus.Fields{
				"method":     c.Request().Method,
				"route":      route,
				"path":       c.Request().URL.Path,
				"status":     status,
				"latency_ms": latency.Milliseconds(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
				"user_id":    userID(c),
			})
			switch {
			case status >= 500:
				entry.Error("request")
			case status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		}
	}
}
