package main

import (
	"context"

	"github.com/gofiber/contrib/fiberzap/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shiftcal/ota-server/internal/application"
	"github.com/shiftcal/ota-server/internal/cache"
	"github.com/shiftcal/ota-server/internal/config"
	"github.com/shiftcal/ota-server/internal/events"
	"github.com/shiftcal/ota-server/internal/handler"
	"github.com/shiftcal/ota-server/internal/logger"
	"github.com/shiftcal/ota-server/internal/logic"
	"github.com/shiftcal/ota-server/internal/middleware"
	"github.com/shiftcal/ota-server/internal/patcher"
	"github.com/shiftcal/ota-server/internal/pkg/restserver"
	"github.com/shiftcal/ota-server/internal/repo"
	"github.com/shiftcal/ota-server/internal/signer"
	"github.com/shiftcal/ota-server/internal/storage"
)

func main() {
	setUpConfigAndLog()

	db, err := repo.Open(config.CFG.Database)
	if err != nil {
		zap.L().Fatal("failed to connect to database",
			zap.Error(err),
		)
	}
	if err := repo.Migrate(db, config.CFG.Database.Driver); err != nil {
		zap.L().Fatal("failed to migrate database",
			zap.Error(err),
		)
	}
	store := repo.NewSQLStore(db)
	defer func() {
		if err := store.Close(); err != nil {
			zap.L().Error("failed to close database", zap.Error(err))
		}
	}()

	disk, err := storage.New(config.CFG.Storage.RootDir)
	if err != nil {
		zap.L().Fatal("failed to prepare storage",
			zap.Error(err),
		)
	}

	codeSigner, err := signer.New(config.CFG.Signing)
	if err != nil {
		zap.L().Fatal("failed to load signing key",
			zap.Error(err),
		)
	}

	// deps
	var (
		group    = cache.NewResolverCacheGroup()
		differ   = patcher.NewRunner(config.CFG.Patcher)
		recorder = events.NewRecorder(store, zap.L())

		manifestLogic = logic.NewManifestLogic(zap.L(), store, group)
		publishLogic  = logic.NewPublishLogic(zap.L(), store, disk, group)
		deliveryLogic = logic.NewDeliveryLogic(zap.L(), store, disk, differ, group)
		gcLogic       = logic.NewGCLogic(zap.L(), store, disk, group)

		app = fiber.New(fiber.Config{
			BodyLimit:   config.CFG.Server.BodyLimit,
			ProxyHeader: fiber.HeaderXForwardedFor,
		})
	)

	initRoute(app,
		handler.NewManifestHandler(zap.L(), manifestLogic, codeSigner, recorder),
		handler.NewAssetHandler(zap.L(), deliveryLogic, disk, recorder),
		handler.NewAdminHandler(zap.L(), publishLogic, gcLogic),
	)

	srv := application.New()
	srv.AddAdapter(
		recorder,
		restserver.NewAdapter(app),
	)
	srv.Run(context.Background())
}

func setUpConfigAndLog() {
	config.CFG = config.New()
	zap.ReplaceGlobals(logger.New(config.CFG))
}

func initRoute(
	app *fiber.App,
	manifest *handler.ManifestHandler,
	asset *handler.AssetHandler,
	admin *handler.AdminHandler,
) {
	app.Use(fiberzap.New(fiberzap.Config{
		Logger: zap.L(),
	}))

	r := app.Group("/")

	manifest.Register(r)
	asset.Register(r)

	adminGroup := app.Group("/api/admin", middleware.NewAdminAuth(config.CFG.Auth.AdminToken))
	admin.Register(adminGroup)

	handler.NewHealthCheckHandler().Register(r)
	handler.NewMetricsHandler().Register(r)
}
