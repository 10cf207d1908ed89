package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/aulerag/internal/adapters/duckdb"
	"github.com/manthysbr/aulerag/internal/config"
	"github.com/manthysbr/aulerag/internal/core/domain"
	"github.com/manthysbr/aulerag/internal/core/services"
	"github.com/manthysbr/aulerag/internal/plugins"
	"github.com/manthysbr/aulerag/pkg/kernel"
)

const usage = `usage: aule-rag [-env file] <command> [args]

commands:
  serve                       run the HTTP API (default)
  ingest <path>               add .txt .md .py .json files to the document collection
  query [-tier t] [-session id] <question>
                              answer one question and print the response as JSON
  version                     print the version
`

func main() {
	fs := flag.NewFlagSet("aule-rag", flag.ExitOnError)
	envFile := fs.String("env", ".env", "dotenv file to load before the environment")
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = fs.Parse(os.Args[1:])

	cmd, args := "serve", fs.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "version" {
		fmt.Println(services.Version)
		return
	}

	env, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// One-shot commands keep stdout for their result.
	var logOut io.Writer = os.Stderr
	if cmd == "serve" {
		logOut = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: env.LogLevel}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	switch cmd {
	case "serve":
		err = runServe(ctx, logger, env)
	case "ingest":
		err = runIngest(ctx, logger, env, args)
	case "query":
		err = runQuery(ctx, logger, env, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

// core holds what every command needs. close releases it in reverse
// order of creation.
type core struct {
	app      *app
	repo     *duckdb.Repository
	settings *config.SettingsStore
	events   *services.EventBus
	tracer   *services.TraceCollector
	wasm     *plugins.Runtime
}

func (r *core) close(ctx context.Context) {
	if r.app != nil {
		r.app.Close()
	}
	if r.wasm != nil {
		_ = r.wasm.Close(ctx)
	}
	if r.repo != nil {
		_ = r.repo.Close()
	}
}

func bootstrap(ctx context.Context, logger *slog.Logger, env *config.Env) (_ *core, err error) {
	rt := &core{}
	defer func() {
		if err != nil {
			rt.close(ctx)
		}
	}()

	if dir := filepath.Dir(env.DBPath); env.DBPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	rt.repo, err = duckdb.NewRepository(env.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}

	secretKey, err := config.NewSecretKey()
	if err != nil {
		return nil, fmt.Errorf("failed to init secret key: %w", err)
	}
	rt.settings, err = config.NewSettingsStore(ctx, logger, rt.repo, secretKey, env.App)
	if err != nil {
		return nil, fmt.Errorf("failed to init settings store: %w", err)
	}

	rt.events = services.NewEventBus(logger)
	rt.tracer = services.NewTraceCollector(logger, rt.events, rt.repo)

	rt.wasm, err = plugins.NewRuntime(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init plugin runtime: %w", err)
	}
	pluginTools, err := plugins.NewLoader(logger, rt.wasm, env.PluginDir).Load(ctx)
	if err != nil {
		logger.Warn("plugin discovery failed (non-fatal)", "dir", env.PluginDir, "error", err)
	} else if len(pluginTools) > 0 {
		logger.Info("plugins loaded", "count", len(pluginTools))
	}

	rt.app = newApp(ctx, logger, env, rt.repo, rt.tracer, pluginTools, rt.settings.GetConfig())
	rt.settings.OnChange(rt.app.reload)
	return rt, nil
}

func runServe(ctx context.Context, logger *slog.Logger, env *config.Env) error {
	logger.Info("starting aule-rag", "version", services.Version)
	rt, err := bootstrap(ctx, logger, env)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	apiServer, err := kernel.NewServer(logger, kernel.Deps{
		Engine:   rt.app,
		Memory:   rt.app,
		Tools:    rt.app,
		Traces:   rt.tracer,
		Events:   rt.events,
		Settings: rt.settings,
	})
	if err != nil {
		return fmt.Errorf("failed to init api server: %w", err)
	}
	handler, err := apiServer.Handler()
	if err != nil {
		return fmt.Errorf("failed to build api handler: %w", err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	httpServer := &http.Server{
		Addr:              env.Addr(),
		Handler:           c.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting api server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runIngest(ctx context.Context, logger *slog.Logger, env *config.Env, args []string) error {
	if len(args) != 1 {
		return errors.New("ingest takes exactly one path")
	}
	rt, err := bootstrap(ctx, logger, env)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	report, err := rt.app.Ingestor().IngestPath(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runQuery(ctx context.Context, logger *slog.Logger, env *config.Env, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	tier := fs.String("tier", string(domain.TierBasic), "basic, agent or advanced")
	session := fs.String("session", "", "session id for conversation memory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return errors.New("query needs a question")
	}

	rt, err := bootstrap(ctx, logger, env)
	if err != nil {
		return err
	}
	defer rt.close(context.Background())

	resp := rt.app.Query(ctx, services.QueryRequest{Query: question, Tier: *tier, SessionID: *session})
	if err := printJSON(resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
