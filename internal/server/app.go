// Package server initializes and runs the file vault server: database and
// blob storage backends, the antivirus gateway, the service layer and the
// HTTP endpoint, with graceful shutdown on OS signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/secfiles/filevault/internal/logging"
	"github.com/secfiles/filevault/internal/server/config"
	"github.com/secfiles/filevault/internal/server/httpapi"
	"github.com/secfiles/filevault/internal/server/repositories/repomanager"
	"github.com/secfiles/filevault/internal/server/scan"
	"github.com/secfiles/filevault/internal/server/services"
	"github.com/secfiles/filevault/internal/server/storage"
	"github.com/secfiles/filevault/internal/server/validation"
)

type App struct {
	config *config.Config
	logger logging.Logger

	fileService  *services.FileService
	shareService *services.ShareService
	auditService *services.AuditService

	httpServer *httpapi.Server
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := repomanager.Open(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	blobs, err := storage.NewS3Store(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blob storage init error: %w", err)
	}

	scanner := scan.NewGateway(
		scan.NewClamdScanner(c.ScannerAddr, c.ScanTimeout),
		c.ScanRetries, c.ScanRetryBase, logger)

	validator := validation.NewValidator(validation.Limits{
		MaxSize: c.MaxUploadSize,
		MinSize: c.MinUploadSize,
	})

	as := services.NewAuditService(db, rm, logger)
	fs := services.NewFileService(db, rm, validator, scanner, blobs, as, logger, c)
	ss := services.NewShareService(db, rm, fs, as, logger, c)

	hs := httpapi.NewServer(c.EndpointAddr, logger, fs, ss, as, c.SecretKey)

	return &App{
		config:       c,
		logger:       logger,
		fileService:  fs,
		shareService: ss,
		auditService: as,
		httpServer:   hs,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.httpServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// startPendingSweeper periodically re-screens files left pending by
// scanner outages.
func (app *App) startPendingSweeper(ctx context.Context) {
	ticker := time.NewTicker(app.config.PendingRetryAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := app.fileService.RetryPending(ctx); err != nil {
				app.logger.Error(ctx, "pending sweep failed", "error", err.Error())
			}
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startPendingSweeper(ctx)
	}()

	wg.Wait()
}
