// Package httpapi wires the one HTTP route this repo exposes: a read-only
// status endpoint surfacing the dispatcher's running state, via
// labstack/echo/v4 matching the teacher's router.
package httpapi

import (
	"net/http"

	"backend/internal/dispatcher"
	"github.com/labstack/echo/v4"
)

// StatusProvider is the subset of *dispatcher.Dispatcher this package
// depends on, so handlers can be tested against a fake.
type StatusProvider interface {
	GetStatus() map[string]any
}

var _ StatusProvider = (*dispatcher.Dispatcher)(nil)

// NewServer builds an *echo.Echo with GET /status wired to provider.
func NewServer(provider StatusProvider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.GET("/status", statusHandler(provider))
	return e
}

func statusHandler(provider StatusProvider) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, provider.GetStatus())
	}
}
