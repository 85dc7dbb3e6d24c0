package bootstrap

import (
	"github.com/eleven-am/rtms-sentiment/internal/classifier"
	"github.com/eleven-am/rtms-sentiment/internal/health"
	"github.com/eleven-am/rtms-sentiment/internal/rtms"
	"github.com/eleven-am/rtms-sentiment/internal/transcript"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideHealthHandler(redis *redis.Client, controller *rtms.Controller, c transcript.Classifier) *health.Handler {
	_, loaded := c.(*classifier.BagOfWords)
	return health.NewHandler(redis, controller, loaded, version)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(h.Middleware())
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
