package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	config "github.com/NordCoder/Sentinel/internal/config/sentinel"
	"github.com/NordCoder/Sentinel/internal/obs"
	pg "github.com/NordCoder/Sentinel/internal/repository/postgres"
	"github.com/NordCoder/Sentinel/internal/services/admin"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
)

func main() {
	cfgPath := flag.String("config", "config/sentinel.yaml", "path to the YAML config")
	flag.Parse()

	// init
	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root, cancel := context.WithCancel(signalCtx)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()
	l.Info("starting sentinel",
		zap.String("env", cfg.App.Env),
		zap.String("ver", cfg.App.Version),
		zap.String("transport", cfg.Queue.Transport))

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(root, cfg.DB, l)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// wiring
	a, err := wire(root, cfg, db, l)
	if err != nil {
		l.Fatal("wire", zap.Error(err))
	}
	defer a.close(l)

	// recovery: every active endpoint gets a fresh check before workers start
	rep, err := a.sched.ReconcileAll(root)
	if err != nil {
		l.Error("startup reconcile failed, relying on admin trigger", zap.Error(err))
	} else if len(rep.Failures) > 0 {
		l.Warn("startup reconcile left endpoints unscheduled", zap.Int("failed", len(rep.Failures)))
	}

	// start
	a.pool.Start(root)
	a.outbox.Start(root)

	var bg sync.WaitGroup
	errCh := make(chan error, 4)
	bg.Add(1)
	go func() {
		defer bg.Done()
		if err := a.claimer.Run(root); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	if a.intake != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := a.intake.Run(root); err != nil {
				errCh <- err
			}
		}()
	}
	if a.sweeper != nil {
		a.sweeper.Start()
	}

	// servers
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, map[string]obs.HealthCheck{
		"substrate": a.sched.Ping,
		"db":        db.Ping,
	}, l)

	adminSrv := &http.Server{
		Addr:              cfg.Server.AdminAddr,
		Handler:           a.admin,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
	go func() {
		l.Info("admin listening", zap.String("addr", cfg.Server.AdminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	hs := health.NewServer()
	grpcSrv := admin.NewGRPCServer(hs)
	ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		l.Fatal("grpc listen", zap.Error(err))
	}
	go func() {
		l.Info("grpc listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(ln); err != nil {
			errCh <- err
		}
	}()
	bg.Add(1)
	go func() {
		defer bg.Done()
		admin.NewHealthReporter(l, hs, a.sched.Ping, cfg.Server.HealthInterval).Run(root)
	}()

	// loop
	select {
	case <-root.Done():
		l.Info("shutdown signal")
	case err := <-errCh:
		l.Error("component failed, shutting down", zap.Error(err))
	}
	cancel()

	// graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shCancel()
	_ = adminSrv.Shutdown(shCtx)
	grpcSrv.GracefulStop()
	if a.sweeper != nil {
		a.sweeper.Stop(shCtx)
	}
	bg.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Queue.DrainTimeout)
	defer drainCancel()
	if err := a.pool.Stop(drainCtx); err != nil {
		l.Warn("worker pool drain", zap.Error(err))
	}
	a.outbox.Wait()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
