// Package httpapi presents internal/signature's AuthorizationValidator
// (spec §6) as an HTTP surface: a single endpoint that reads a HAWK
// Authorization value or a bewit from the inbound JSON request body
// and returns the validator's flat {status, clientId, scopes} or
// {status: failed, message} result as JSON, grounded on the teacher's
// internal/api + internal/middleware Fiber handlers.
package httpapi

import (
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/scopeforge/scoperesolve/internal/observability"
	"github.com/scopeforge/scoperesolve/internal/ratelimit"
	"github.com/scopeforge/scoperesolve/internal/signature"
)

// Server wires a *signature.Validator behind a Fiber app.
type Server struct {
	App       *fiber.App
	Validator *signature.Validator
	Metrics   *observability.Metrics
	Limiter   ratelimit.Store

	// GlobalRateLimit, if > 0, caps requests per remote address per
	// GlobalRateWindow, mirroring config.SecurityConfig.
	GlobalRateLimit  int64
	GlobalRateWindow time.Duration
}

// NewServer builds a Fiber app with the validation endpoint, metrics
// middleware, and metrics/health endpoints wired in.
func NewServer(validator *signature.Validator, metrics *observability.Metrics, limiter ratelimit.Store) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		App:              app,
		Validator:        validator,
		Metrics:          metrics,
		Limiter:          limiter,
		GlobalRateLimit:  0,
		GlobalRateWindow: time.Minute,
	}

	if metrics != nil {
		app.Use(metrics.MetricsMiddleware())
	}

	app.Get("/healthz", s.handleHealth)
	if metrics != nil {
		app.Get("/metrics", metrics.Handler())
	}
	app.Post("/v1/validate", s.handleValidate)

	return s
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusOK)
}

// validateRequestBody is the JSON shape clients POST to /v1/validate: the
// pieces of the inbound request the HAWK/bewit scheme signs over, since
// this endpoint validates signatures computed against an upstream request
// rather than the request to this endpoint itself.
type validateRequestBody struct {
	Method        string `json:"method"`
	Resource      string `json:"resource"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Authorization string `json:"authorization"`
	Bewit         string `json:"bewit"`
}

type validateResponse struct {
	Status   string   `json:"status"`
	Scheme   string   `json:"scheme,omitempty"`
	ClientID string   `json:"clientId,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	Message  string   `json:"message,omitempty"`
}

func (s *Server) handleValidate(c *fiber.Ctx) error {
	if s.Limiter != nil && s.GlobalRateLimit > 0 {
		key := ratelimit.ValidateEndpointKey(remoteKey(c))
		result, err := ratelimit.Check(c.Context(), s.Limiter, key, s.GlobalRateLimit, s.GlobalRateWindow)
		if err != nil {
			log.Error().Err(err).Msg("rate limit check failed")
		} else if !result.Allowed {
			if s.Metrics != nil {
				s.Metrics.RecordRateLimitHit("global", key)
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(validateResponse{
				Status:  signature.StatusFailed,
				Message: "rate limit exceeded",
			})
		}
	}

	var body validateRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(validateResponse{
			Status:  signature.StatusFailed,
			Message: "malformed request body",
		})
	}

	ctx, span := observability.StartAuthSpan(c.Context(), "validate")
	defer span.End()

	result := s.Validator.Validate(ctx, signature.Request{
		Method:        body.Method,
		Resource:      body.Resource,
		Host:          body.Host,
		Port:          body.Port,
		Authorization: body.Authorization,
		Bewit:         body.Bewit,
	})

	resp := validateResponse{
		Status:   result.Status,
		Scheme:   result.Scheme,
		ClientID: result.ClientID,
		Scopes:   result.Scopes,
		Message:  result.Message,
	}

	if result.Status != signature.StatusSuccess {
		return c.Status(fiber.StatusUnauthorized).JSON(resp)
	}
	return c.JSON(resp)
}

// remoteKey derives a rate-limit key from the request's remote address,
// falling back to the raw IP string if SplitHostPort fails (e.g. no port).
func remoteKey(c *fiber.Ctx) string {
	addr := c.Context().RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// Listen starts serving on addr. It blocks until the server stops or
// errors.
func (s *Server) Listen(addr string) error {
	log.Info().Str("addr", addr).Msg("httpapi listening")
	return s.App.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.App.Shutdown()
}
