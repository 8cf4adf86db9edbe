package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crossledger/config"
	"crossledger/core/state"
	"crossledger/native/auction"
	"crossledger/native/credit"
	"crossledger/native/desk"
	"crossledger/native/loans"
	"crossledger/native/pool"
	"crossledger/observability/logging"
	"crossledger/storage"
)

const envVar = "CROSSLEDGER_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envVar))
	logger := logging.Setup("ledgerd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := ensurePool(manager, cfg.DefaultPoolID, cfg.Pool.DefaultLTVBps); err != nil {
		logger.Error("Failed to initialise pool", slog.Any("error", err))
		os.Exit(1)
	}

	ledger := pool.NewEngine(cfg.Pool)
	ledger.SetState(manager)
	ledger.SetPoolID(cfg.DefaultPoolID)
	ledger.SetPauses(cfg.Pauses)
	ledger.SetNowFunc(func() uint64 { return uint64(time.Now().Unix()) })
	if addr := strings.TrimSpace(cfg.TreasuryAddress); addr != "" {
		treasury, err := config.ParseAddress(addr)
		if err != nil {
			logger.Error("Invalid treasury address", slog.Any("error", err))
			os.Exit(1)
		}
		ledger.SetTreasury(treasury)
	}

	loansEngine := loans.NewEngine(ledger, cfg.Fees.LoanOriginationBps)
	loansEngine.SetState(manager)
	loansEngine.SetPauses(cfg.Pauses)

	deskEngine := desk.NewEngine(ledger, cfg.Fees.DeskSettlementBps)
	deskEngine.SetState(manager)
	deskEngine.SetPauses(cfg.Pauses)

	creditEngine := credit.NewEngine(ledger, cfg.Fees.CreditPaymentBps)
	creditEngine.SetState(manager)
	creditEngine.SetPauses(cfg.Pauses)

	auctionEngine := auction.NewEngine(ledger, cfg.Fees.AuctionFillBps)
	auctionEngine.SetState(manager)
	auctionEngine.SetPauses(cfg.Pauses)

	logger.Info("ledger node ready",
		slog.String("pool", cfg.DefaultPoolID),
		slog.String("data_dir", cfg.DataDir),
		slog.Uint64("time_gate_seconds", cfg.Pool.TimeGateSeconds),
	)

	mux := metricsMux()
	ledgerAPI := &api{
		manager: manager,
		poolID:  cfg.DefaultPoolID,
		ledger:  ledger,
		loans:   loansEngine,
		desk:    deskEngine,
		credit:  creditEngine,
		auction: auctionEngine,
		logger:  logger,
	}
	ledgerAPI.register(mux)

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped", slog.Any("error", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server shutdown failed", slog.Any("error", err))
	}
	logger.Info("ledger node stopped")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func ensurePool(manager *state.Manager, poolID string, ltvBps uint64) error {
	existing, err := manager.GetPool(poolID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return manager.PutPool(poolID, &pool.Pool{DepositorLTVBps: ltvBps})
}
