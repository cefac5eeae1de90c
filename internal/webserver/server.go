// Package webserver hosts the console HTTP API. Routes registered via
// ApiGET/ApiPOST sit behind JWT auth; PubGET/PubPOST routes (login, the
// bridge callback) are open.
package webserver

import (
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/evopanel/internal/app"
	"go.uber.org/zap"
)

type WebServer struct {
	appCtx app.AppContext
	root   *echo.Echo
	api    *echo.Group
}

var server *WebServer

// Init builds the echo server and the protected /api group.
func Init(appCtx app.AppContext) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(zapLoggerMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("db", appCtx.DB())
			c.Set("appCtx", appCtx)
			return next(c)
		}
	})

	api := e.Group("/api")
	api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(appCtx.Config().Web.JwtSecret),
	}))

	server = &WebServer{appCtx: appCtx, root: e, api: api}
}

// Start runs the listener until it fails or the process exits.
func Start() error {
	zap.L().Info("starting web server", zap.String("addr", server.appCtx.Config().WebAddr()))
	return server.root.Start(server.appCtx.Config().WebAddr())
}

func PubGET(path string, h echo.HandlerFunc) {
	server.root.GET(path, h)
}

func PubPOST(path string, h echo.HandlerFunc) {
	server.root.POST(path, h)
}

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func zapLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			zap.L().Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("latency", time.Since(start)))
			return err
		}
	}
}
