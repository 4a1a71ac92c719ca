package middleware

import (
	"time"

	"SignalEngine/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs failed and slow requests; other requests are logged at debug.
func RequestLogging(l *logger.Logger, slowThreshold time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			latency := time.Since(start)
			fields := []logger.Field{
				logger.String("route", routeLabel(c)),
				logger.String("method", req.Method),
				logger.Int("status", c.Response().Status),
				logger.Duration("duration_ms", latency),
				logger.String("remote", c.RealIP()),
			}
			switch {
			case c.Response().Status >= 500:
				l.Error("http request failed", fields...)
			case slowThreshold > 0 && latency >= slowThreshold:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
