//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"KasPull/pkg/config"
	"KasPull/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Polling core
		ProvideSheetsClient,
		ProvidePoller,
		ProvideStabilizer,
		ProvideNotifier,
		ProvideScheduler,

		// Storage and event sinks
		ProvideCache,
		ProvideSnapshotStore,
		ProvideChangeStore,
		ProvideEventPublisher,
		ProvidePipelines,

		// API
		ProvideBalanceService,
		ProvideRefreshLimiter,
		ProvideBalanceHandler,
		ProvideHTTPServer,

		ProvideClosers,
		ProvideApp,
	)
	return &server.App{}, nil
}
