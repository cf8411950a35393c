package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

// SameOriginCORS rejects cross-origin browser requests: when an Origin
// header is present its hostname must match the request's hostname.
// Requests without an Origin header (curl, same-origin navigations) pass.
func SameOriginCORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			origin := c.Request().Header.Get("Origin")
			if origin == "" {
				return next(c)
			}

			parsed, err := url.Parse(origin)
			if err != nil {
				return echo.NewHTTPError(http.StatusForbidden, "invalid origin")
			}

			if !strings.EqualFold(parsed.Hostname(), hostOnly(c.Request().Host)) {
				return echo.NewHTTPError(http.StatusForbidden, "cross-origin request rejected")
			}

			c.Response().Header().Set("Access-Control-Allow-Origin", origin)
			c.Response().Header().Set("Vary", "Origin")
			return next(c)
		}
	}
}

// ProxyRequestBlock rejects requests with an absolute URI in the request
// line (open-proxy probes like "GET http://example.com/").
func ProxyRequestBlock() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uri := c.Request().RequestURI
			if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
				return echo.NewHTTPError(http.StatusBadRequest, "absolute URI not allowed")
			}
			return next(c)
		}
	}
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}
