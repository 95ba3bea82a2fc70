package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/missionctl/mission-control/internal/archive"
	"github.com/missionctl/mission-control/internal/config"
	"github.com/missionctl/mission-control/internal/dispatch"
	"github.com/missionctl/mission-control/internal/eventbus"
	"github.com/missionctl/mission-control/internal/openclaw"
	"github.com/missionctl/mission-control/internal/pushnotification"
	"github.com/missionctl/mission-control/internal/reconcile"
	"github.com/missionctl/mission-control/internal/server"
	"github.com/missionctl/mission-control/internal/task/storeimpl"
	"github.com/missionctl/mission-control/internal/user"
	"github.com/missionctl/mission-control/pkg/clog"
)

const fallbackQueueSize = 64

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup store
	db, err := storeimpl.Open(env.StoreEnv.Path)
	if err != nil {
		slog.Error("failed to open store", "path", env.StoreEnv.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	tasks := db.Tasks()
	users := db.Users()
	subs := db.Subscriptions()

	// Setup archive
	var arch archive.Archive
	switch env.ArchiveEnv.Type {
	case "s3":
		arch, err = archive.NewS3(context.Background(), env.ArchiveEnv.S3Bucket, env.ArchiveEnv.S3Prefix, env.ArchiveEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 archive", "error", err)
			os.Exit(1)
		}
	default:
		arch, err = archive.NewLocal(env.ArchiveEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local archive", "error", err)
			os.Exit(1)
		}
	}

	bus := eventbus.New()
	client := openclaw.NewClient()

	fallback := dispatch.NewRunner(tasks, users, client, bus, fallbackQueueSize)
	dispatcher := dispatch.NewEngine(tasks, client, fallback, bus, openclaw.WebhookURL(env.PublicURL))
	reconciler := reconcile.NewEngine(tasks, client, arch, bus, env.PollEnv.StaleAfter())
	scheduler := reconcile.NewScheduler(reconciler, env.PollEnv.Interval())

	pushSender := pushnotification.NewSender(&env.VAPIDEnv, subs)
	pushDispatcher := pushnotification.NewDispatcher(bus, pushSender)

	srv := server.NewServer(env, tasks, users, subs, client, dispatcher, reconciler, bus)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if env.DemoEnv.FixturesPath != "" {
		n, err := user.LoadFixtures(ctx, users, env.DemoEnv.FixturesPath)
		if err != nil {
			slog.Error("failed to load user fixtures", "path", env.DemoEnv.FixturesPath, "error", err)
			os.Exit(1)
		}
		slog.Info("loaded user fixtures", "path", env.DemoEnv.FixturesPath, "users", n)
		if env.DemoEnv.Watch {
			go func() {
				if err := user.WatchFixtures(ctx, users, env.DemoEnv.FixturesPath); err != nil {
					slog.Error("fixture watcher error", "error", err)
				}
			}()
		}
	}

	go fallback.Start(ctx)
	go pushDispatcher.Start(ctx)
	scheduler.Start(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server")

	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
