package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tangle-node/config"
	"tangle-node/dag"
	"tangle-node/db"
	"tangle-node/events"
	"tangle-node/handlers"
	"tangle-node/logger"
	"tangle-node/metrics"
	"tangle-node/repository"
	"tangle-node/routers"
)

const shutdownTimeout = 5 * time.Second

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tangled",
	Short: "runs a tangle node with a local HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(configFile)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config/config.yaml", "path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err = logger.InitLogger(cfg.Log.AppLogFile, cfg.Log.Level); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	defer logger.Logger.Sync()

	logger.Logger.Info("Starting tangle node...", zap.String("engine", cfg.Storage.Engine), zap.String("path", cfg.Storage.Path))

	store, err := db.Open(cfg.Storage.Engine, cfg.Storage.Path)
	if err != nil {
		logger.Logger.Error("Failed to open storage", zap.Error(err))
		return err
	}
	defer store.Close()

	repo, err := repository.NewMessageRepository(store)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	reg := prometheus.NewRegistry()
	tangle, err := dag.New(cfg.Tangle, repo, bus, metrics.New(reg))
	if err != nil {
		return err
	}
	tangle.Start()
	defer tangle.Shutdown()

	go logMilestones(bus.Subscribe(events.KindConfirmedMilestoneChanged, events.KindPruned))

	r := mux.NewRouter()
	routers.RegisterRoutes(r, handlers.NewHandler(tangle), metrics.Handler(reg))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	logger.Logger.Info("Server running on port", zap.Int("port", cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Logger.Info("Shutdown signal received, exiting...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// logMilestones reports consensus progress until the bus is closed
func logMilestones(sub *events.Subscription) {
	log := logger.Named("events")
	for e := range sub.C() {
		switch ev := e.(type) {
		case events.ConfirmedMilestoneChanged:
			log.Debug("confirmed milestone changed", zap.Uint32("old", uint32(ev.Old)), zap.Uint32("new", uint32(ev.New)))
		case events.Pruned:
			log.Info("tangle pruned", zap.Uint32("target", uint32(ev.TargetIndex)), zap.Int("solid_entry_points", len(ev.SEPs)))
		}
	}
}
