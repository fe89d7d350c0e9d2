package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vntrieu/mixplay/internal/auth"
	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/config"
	"github.com/vntrieu/mixplay/internal/database"
	"github.com/vntrieu/mixplay/internal/discovery"
	"github.com/vntrieu/mixplay/internal/feed"
	"github.com/vntrieu/mixplay/internal/httpapi"
	"github.com/vntrieu/mixplay/internal/interactive"
	"github.com/vntrieu/mixplay/internal/protocol"
	"github.com/vntrieu/mixplay/internal/ratelimit"
	"github.com/vntrieu/mixplay/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The loop outlives ctx so sessions can be closed on it during shutdown.
	loop := protocol.NewLoop(0)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go loop.Run(loopCtx)
	defer func() {
		stopLoop()
		<-loop.Done()
	}()

	creds := auth.Credentials{AccessToken: cfg.AccessToken}
	disc := discovery.New(cfg.APIBaseURL)
	deps := httpapi.RouterDeps{
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
		TokenSecret:       cfg.TokenSecret,
		LoginLimiter:      httpapi.DefaultLoginLimiter(cfg.RateLimitPerMinute),
		CORSOrigins:       cfg.CORSOrigins,
	}

	hub := feed.NewHub()
	deps.Feed = hub

	var archive *store.ArchiveWriter
	chatObservers := chat.Observers{chatLogger{}, feed.NewChatObserver(hub)}
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolOptions{})
		if err != nil {
			log.Fatalf("database connect: %v", err)
		}
		defer pool.Close()
		log.Println("connected to database")

		if err := database.Migrate(ctx, pool); err != nil {
			log.Fatalf("database migrate: %v", err)
		}
		log.Println("migrations up to date")

		archiveStore := store.NewArchiveStore(pool)
		archive = store.NewArchiveWriter(archiveStore, cfg.Chat.ArchiveBuffer)
		chatObservers = append(chatObservers, archive)
		deps.Archive = archiveStore
	}

	manager := chat.NewManager(loop, chat.ManagerConfig{
		DefaultRoom:    cfg.Chat.DefaultRoom,
		HistoryMax:     cfg.Chat.HistoryMax,
		RequestHistory: cfg.Chat.RequestHistory,
		Rejoin:         cfg.Chat.Rejoin,
	}, chat.Deps{
		Resolver: disc,
		Observer: chatObservers,
		Limiter:  ratelimit.NewWindow(cfg.Chat.MessagesPerWin, cfg.Chat.MessageWindow),
	})
	deps.Chat = manager
	err = manager.Exec(ctx, func(m *chat.Manager) {
		m.SetCredentials(creds)
		for _, room := range cfg.Chat.JoinOnStart {
			if err := m.JoinRoom(room, cfg.Chat.AnonymousJoins || creds.Anonymous()); err != nil {
				log.Printf("chat join room=%s: %v", room, err)
			}
		}
	})
	if err != nil {
		log.Fatalf("chat start: %v", err)
	}

	var session *interactive.Session
	if cfg.Interactive.Enabled {
		session = interactive.NewSession(loop, interactive.Config{
			ProjectVersionID:    cfg.Interactive.ProjectVersionID,
			ShareCode:           cfg.Interactive.ShareCode,
			Credentials:         creds,
			Endpoints:           cfg.Interactive.Endpoints,
			PerParticipantState: cfg.Interactive.PerParticipantState,
			Rejoin:              cfg.Interactive.Rejoin,
			SweepStale:          cfg.Interactive.SweepStale,
		}, interactive.Deps{
			Hosts:    disc,
			Observer: interactive.Observers{interactiveLogger{}, feed.NewInteractiveObserver(hub)},
		})
		deps.Interactive = session
		var loginErr error
		if err := session.Exec(ctx, func(s *interactive.Session) { loginErr = s.Login() }); err != nil {
			log.Fatalf("interactive start: %v", err)
		}
		if loginErr != nil {
			log.Fatalf("interactive login: %v", loginErr)
		}
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("mixplayd control API listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
		return nil
	})
	g.Go(func() error { return hub.Run(gctx) })
	if archive != nil {
		g.Go(func() error { return archive.Run(gctx) })
	}
	if session != nil {
		g.Go(func() error {
			session.RunMaintenance(gctx, cfg.Interactive.TickInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("mixplayd: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = manager.Exec(closeCtx, func(m *chat.Manager) { m.Close() })
	if session != nil {
		_ = session.Exec(closeCtx, func(s *interactive.Session) { s.Logout() })
	}
	if archive != nil && (archive.Dropped() > 0 || archive.Failed() > 0) {
		log.Printf("archive dropped=%d failed=%d", archive.Dropped(), archive.Failed())
	}
	log.Println("mixplayd stopped")
}
