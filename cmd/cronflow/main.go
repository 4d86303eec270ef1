package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"cronflow/internal/api"
	"cronflow/internal/domain"
	"cronflow/internal/engine"
	"cronflow/internal/eventbus"
	"cronflow/internal/executor"
	"cronflow/internal/registry"
	"cronflow/internal/stats"
	"cronflow/internal/store"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "HTTP bind address")
		dbPath     = flag.String("db", "cronflow.db", "SQLite DB path (empty for in-memory state)")
		timeout    = flag.Duration("timeout", 2*time.Minute, "per-attempt handler timeout")
		historyCap = flag.Int("history", 200, "executions retained per task for the in-memory store")
		rejectPast = flag.Bool("reject-past-once", false, "reject once schedules already in the past")
		debug      = flag.Bool("debug", false, "enable pprof endpoints")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	var (
		tasks store.TaskStore
		execs store.ExecutionStore
	)
	if *dbPath != "" {
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", *dbPath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		defer db.Close()
		db.SetMaxOpenConns(1) // SQLite single writer

		if err := store.EnsureSchema(db); err != nil {
			log.Fatal().Err(err).Msg("ensure schema")
		}
		s := store.NewSQLite(db)
		tasks, execs = s, s
	} else {
		m := store.NewMemoryWithHistoryCap(*historyCap)
		tasks, execs = m, m
	}

	// Executor registry: webhook and shell are built in, everything else is
	// acknowledged by the generic fallback.
	execReg := executor.NewRegistry()
	execReg.Register(domain.TypeWebhook, executor.NewWebhook())
	execReg.Register(domain.TypeCleanup, executor.Shell{})

	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	go func() {
		for e := range events {
			log.Debug().
				Str("event", e.Type).
				Str("task", e.Data.TaskID).
				Str("workspace", e.Data.WorkspaceID).
				Msg("task event")
		}
	}()

	eng := engine.New(tasks, execs, execReg, bus, engine.Config{DefaultTimeout: *timeout})
	if err := eng.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("start engine")
	}

	reg := registry.New(tasks, execs, eng, registry.Options{
		RejectPastOnce: *rejectPast,
		DefaultRetry: domain.RetryPolicy{
			MaxRetries:   3,
			Backoff:      domain.BackoffExponential,
			InitialDelay: 5 * time.Second,
			MaxDelay:     5 * time.Minute,
		},
	})
	agg := stats.New(tasks, execs)

	srv := &http.Server{Addr: *addr, Handler: api.NewServerWithDebug(reg, eng, agg, *debug)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	eng.Stop()
}
