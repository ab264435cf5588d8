// Command foremand is the orchestrator daemon: it wires the Planner's
// reconciliation loop to the Manager's worker pool and, if configured,
// serves the HTTP control surface for foreman-dash.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/corvidwave/foreman/internal/auth"
	"github.com/corvidwave/foreman/internal/board"
	"github.com/corvidwave/foreman/internal/config"
	"github.com/corvidwave/foreman/internal/control"
	"github.com/corvidwave/foreman/internal/developer"
	"github.com/corvidwave/foreman/internal/git"
	"github.com/corvidwave/foreman/internal/gitlock"
	"github.com/corvidwave/foreman/internal/logger"
	"github.com/corvidwave/foreman/internal/manager"
	"github.com/corvidwave/foreman/internal/planner"
	"github.com/corvidwave/foreman/internal/plannerstate"
	"github.com/corvidwave/foreman/internal/prompt"
	"github.com/corvidwave/foreman/internal/pullrequest"
	"github.com/corvidwave/foreman/internal/resultprocessor"
	"github.com/corvidwave/foreman/internal/worker"
	"github.com/corvidwave/foreman/internal/workspace"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.json", "Path to config file")
	hashPassword := flag.String("hash-password", "", "Hash a password for control.operator_password and exit")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("foremand %s\n", version)
		os.Exit(0)
	}

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewSystemLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("starting foremand",
		"version", version,
		"config", *configPath,
		"board_id", cfg.Planner.BoardID,
	)

	gitLayer := git.New(gitlock.New(), cfg.Manager.CacheDir, cfg.Manager.GitConfig.Remote,
		cfg.Manager.GitConfig.CloneDepth, cfg.RepositoryCacheTimeout(), cfg.GitOperationTimeout())
	ws := workspace.New(gitLayer, cfg.Manager.WorkspaceRoot, cfg.Manager.GitConfig.BranchPrefix, log)
	promptGen := prompt.New(cfg.Instructions, cfg.Manager.GitConfig)
	rp := resultprocessor.New(log)

	boardSvc, prSvc, cloneURL := buildForgeServices(cfg, log)

	taskLogs := func(taskID string) (*slog.Logger, func(), error) {
		return logger.NewTaskLogger(cfg, taskID)
	}
	factory := func(id string) *worker.Worker {
		dev := developer.New(cfg.Developer, log)
		return worker.New(id, ws, promptGen, dev, rp, cloneURL, cfg.Developer, taskLogs, log)
	}
	mgr := manager.New(factory, cfg.Manager.WorkerPool.Min, cfg.Manager.WorkerPool.Max,
		cfg.WorkerTimeout(), time.Duration(cfg.Manager.WorkerPool.ResultTTLMs)*time.Millisecond,
		cfg.Manager.GitConfig.EnableConcurrencyLock, log)

	state, err := plannerstate.NewStore(cfg.Planner.StateFile)
	if err != nil {
		log.Error("failed to load planner state", "error", err)
		os.Exit(1)
	}

	cleanup := func(repositoryID, taskID string) {
		repoDir := gitLayer.CacheDirFor(repositoryID)
		ws.CleanupWorkspace(context.Background(), repositoryID, taskID, repoDir)
	}

	plan := planner.New(boardSvc, prSvc, mgr, state, cfg.Planner, cleanup, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalled := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, initiating shutdown", "signal", sig)
		close(signalled)
		cancel()
	}()

	var httpServer *http.Server
	if cfg.Control.Enabled {
		authSvc := auth.NewService(cfg.Control)
		authHandler := auth.NewHandler(authSvc)
		ctrl := control.New(plan, mgr, authHandler, cfg.WorkerTimeout(), cfg.Logger.FilePath, log)
		httpServer = &http.Server{Addr: cfg.Control.ListenAddr, Handler: ctrl.Routes()}

		go func() {
			log.Info("control surface listening", "addr", cfg.Control.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("control surface exited", "error", err)
			}
		}()
	}

	var g errgroup.Group
	g.Go(func() error { plan.Run(ctx); return nil })
	g.Go(func() error { mgr.Run(ctx, cfg.WorkerTimeout()); return nil })

	<-ctx.Done()
	g.Wait()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("control surface shutdown error", "error", err)
		}
	}

	log.Info("foremand exited")

	select {
	case <-signalled:
		os.Exit(130)
	default:
	}
}

// buildForgeServices wires the board/pull-request services against a hosted
// Git forge when configured, falling back to the in-memory mocks so the
// daemon is still runnable (e.g. for local smoke testing) without credentials.
func buildForgeServices(cfg *config.Config, log *slog.Logger) (board.Service, pullrequest.Service, worker.CloneURLResolver) {
	if !cfg.Forge.Enabled {
		log.Warn("forge.enabled is false, running against in-memory mock board and pull-request services")
		mockBoard := board.NewMockService()
		mockPR := pullrequest.NewMockService()
		return mockBoard, mockPR, func(string) string { return "" }
	}

	token := os.Getenv("GITHUB_TOKEN")
	boardSvc := board.NewForgeService(token, cfg.Forge.Owner, cfg.Forge.Repo)
	prSvc := pullrequest.NewForgeService(token)
	cloneURL := func(string) string {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, cfg.Forge.Owner, cfg.Forge.Repo)
	}
	return boardSvc, prSvc, cloneURL
}
