package query

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/zephyr-analytics/zephscan/app/query/controller"
	"github.com/zephyr-analytics/zephscan/app/query/types"
	"github.com/zephyr-analytics/zephscan/pkg/utils"
)

// NewServer builds the HTTP server of app.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := utils.Env("ADDR", ":3002")

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}
