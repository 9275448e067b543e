// Command bridge is the process entrypoint: it wires internal/bridge.Engine
// to the HTTP surface in internal/httpapi and serves it until interrupted.
//
// Flag-based bootstrap grounded on cmd/spilld/main.go's own flag.String
// setup, pared down to what a single-process sync bridge needs: no TLS
// autocert, no IMAP/SMTP listeners of its own (this process is an IMAP/SMTP
// *client*, never a server), just a storage directory, an attachment
// directory, and an HTTP address for the local UI to speak to.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/highkick05/mailboy-sub000/internal/bridge"
	"github.com/highkick05/mailboy-sub000/internal/httpapi"
)

var version = "unknown" // filled in by "-ldflags=-X main.version=<val>"

func main() {
	flagDBDir := flag.String("dbdir", "", "directory for the sqlite store and attachment blobs (a temp dir if unset)")
	flagHTTPAddr := flag.String("http_addr", ":8420", "address the local HTTP API listens on")
	flagDev := flag.Bool("dev", false, "development mode: use a development zap logger instead of the production config")
	flag.Parse()

	var log *zap.Logger
	var err error
	if *flagDev {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	dbDir := *flagDBDir
	if dbDir == "" {
		dbDir, err = os.MkdirTemp("", "mailboy-bridge-")
		if err != nil {
			log.Fatal("create temp dbdir", zap.Error(err))
		}
	} else if err := os.MkdirAll(dbDir, 0o755); err != nil {
		log.Fatal("create dbdir", zap.Error(err))
	}

	log.Info("bridge starting", zap.String("version", version), zap.String("dbdir", dbDir), zap.String("http_addr", *flagHTTPAddr))

	dbFile := filepath.Join(dbDir, "bridge.db")
	attachmentDir := filepath.Join(dbDir, "attachments")
	engine, err := bridge.New(dbFile, attachmentDir)
	if err != nil {
		log.Fatal("build engine", zap.Error(err))
	}
	engine.Log = log

	srv := &http.Server{
		Addr:    *flagHTTPAddr,
		Handler: httpapi.NewRouter(httpapi.NewServer(engine)),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http serve", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	log.Info("bridge shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	engine.Shutdown()
	log.Info("bridge shut down")
}
