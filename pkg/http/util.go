package http

import (
	"time"

	xutil "SignalEngine/pkg/util"

	"github.com/labstack/echo/v4"
)

// QueryInt reads an integer query parameter or returns def.
func QueryInt(c echo.Context, name string, def int) int {
	return xutil.ParseIntDefault(c.QueryParam(name), def)
}

// QueryTime reads an RFC3339 or unix time query parameter or returns def.
func QueryTime(c echo.Context, name string, def time.Time) time.Time {
	return xutil.ParseTimeDefault(c.QueryParam(name), def)
}

// QueryDuration reads a duration ("15m" or seconds) query parameter or returns def.
func QueryDuration(c echo.Context, name string, def time.Duration) time.Duration {
	return xutil.ParseDurationDefault(c.QueryParam(name), def)
}
