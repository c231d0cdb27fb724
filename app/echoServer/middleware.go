package echoServer

import (
	"log/slog"
	"net/http"
	"time"

	"loyalty/app/echoServer/jwtx"
	"loyalty/app/echoServer/response"
	"loyalty/util/metrics"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func RegisterMiddlewares(e *echo.Echo, log *slog.Logger, rps float64) {
	e.HTTPErrorHandler = response.HTTPErrorHandler(log)

	e.Use(middleware.Recover())

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	e.Use(Slog(log))
	e.Use(Metrics())
	if rps > 0 {
		e.Use(RateLimit(rps))
	}
}

func Slog(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			lat := time.Since(start).Milliseconds()

			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			log.Info("http",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"latency_ms", lat,
				"req_id", rid,
				"ip", c.RealIP(),
				"ua", c.Request().UserAgent(),
			)
			return nil
		}
	}
}

func Metrics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.RecordHTTPRequest(c.Request().Method, path, c.Response().Status, time.Since(start))
			return nil
		}
	}
}

// RateLimit limits each client IP to rps requests per second. Health and metrics scrapes are exempt.
func RateLimit(rps float64) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/health" || p == "/metrics"
		},
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(rps)),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return response.Fail(c, http.StatusForbidden, response.KindForbidden, "client not identified", nil)
		},
		DenyHandler: func(c echo.Context, id string, err error) error {
			return response.Fail(c, http.StatusTooManyRequests, response.KindRateLimited, "rate limit exceeded", nil)
		},
	})
}

// Auth verifies the bearer token and loads the caller principal.
func Auth(secret string) []echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: "HS256",
		NewClaimsFunc: func(c echo.Context) jwt.Claims { return jwt.MapClaims{} },
		TokenLookup:   "header:Authorization:Bearer ",
		ErrorHandler: func(c echo.Context, err error) error {
			return response.Fail(c, http.StatusUnauthorized, response.KindUnauthorized, "unauthorized", nil)
		},
	})
	principal := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := jwtx.Load(c); err != nil {
				return response.Fail(c, http.StatusUnauthorized, response.KindUnauthorized, "unauthorized", nil)
			}
			return next(c)
		}
	}
	return []echo.MiddlewareFunc{verify, principal}
}

func requireRole(allowed func(p jwtx.Principal) bool, what string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := jwtx.FromContext(c)
			if !ok || !allowed(p) {
				return response.Fail(c, http.StatusForbidden, response.KindForbidden, what+" only", nil)
			}
			return next(c)
		}
	}
}

func RequireAdmin() echo.MiddlewareFunc {
	return requireRole(jwtx.Principal.IsAdmin, "admin")
}

func RequireStaff() echo.MiddlewareFunc {
	return requireRole(jwtx.Principal.IsStaff, "staff")
}
