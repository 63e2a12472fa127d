// Package main provides the restsql command: a SQL-over-REST client
// and an embedded development gateway.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/miracle-42/openrestdb-go/internal/gateway"
	"github.com/miracle-42/openrestdb-go/pkg/restconn"
	"github.com/miracle-42/openrestdb-go/pkg/sqlrest"
	"github.com/miracle-42/openrestdb-go/pkg/transport"
)

// Version is the restsql release version.
const Version = "0.9.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type cliOptions struct {
	configPath  string
	serve       bool
	url         string
	scope       string
	statement   string
	showVersion bool
}

func parseFlags() cliOptions {
	opts := cliOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&opts.serve, "serve", false, "Run the development gateway instead of the client")
	flag.StringVar(&opts.url, "url", "", "Gateway base URL (overrides config)")
	flag.StringVar(&opts.scope, "scope", "", "Connection scope: stateless, stateful, transactional")
	flag.StringVar(&opts.statement, "stmt", "", "SQL statement to run and exit")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("restsql version %s\n", Version)
		return nil
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, opts)

	ctx := setupSignalHandler()

	if opts.serve {
		return serveGateway(ctx, cfg)
	}
	return runClient(ctx, cfg, opts)
}

func applyOverrides(cfg *fileConfig, opts cliOptions) {
	if opts.url != "" {
		cfg.Endpoint = opts.url
	}
	if opts.scope != "" {
		cfg.Scope = opts.scope
	}
}

// serveGateway runs the embedded gateway over a SQLite database until
// the context is cancelled.
func serveGateway(ctx context.Context, cfg fileConfig) error {
	db, err := sqlx.Connect("sqlite3", cfg.Gateway.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	key := []byte(cfg.Gateway.SigningKey)
	if len(key) == 0 {
		return errors.New("gateway.signing_key is required to serve")
	}

	gw, err := gateway.NewServer(db, gateway.Config{
		SigningKey: key,
		SessionTTL: cfg.Gateway.SessionTTL,
		Users:      cfg.Gateway.Users,
	})
	if err != nil {
		return err
	}
	defer gw.Close()

	srv := &http.Server{
		Addr:    cfg.Gateway.Address,
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "address", cfg.Gateway.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runClient connects to the configured gateway, runs the given
// statement and prints the result.
func runClient(ctx context.Context, cfg fileConfig, opts cliOptions) error {
	if opts.statement == "" {
		return errors.New("no statement given; use -stmt or -serve")
	}

	scope, err := restconn.ParseScope(cfg.Scope)
	if err != nil {
		return err
	}
	limits, err := clientLimits(cfg.Limits)
	if err != nil {
		return err
	}

	conn, err := restconn.New(transport.NewHTTPInvoker(cfg.Endpoint),
		restconn.WithScope(scope),
		restconn.WithLimits(limits),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	creds := restconn.Credentials{Username: cfg.Username, Password: cfg.Password}
	if err := conn.Connect(ctx, creds); err != nil {
		return err
	}
	defer func() { _ = conn.Disconnect(context.Background()) }()

	resp, err := conn.Select(ctx, sqlrest.SQLRest{Stmt: opts.statement})
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp *sqlrest.Response) error {
	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")
	return out.Encode(resp)
}
