package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ephemeral-chat/internal/assistant"
	"ephemeral-chat/internal/chat"
	"ephemeral-chat/internal/config"
	"ephemeral-chat/internal/identity"
	"ephemeral-chat/internal/logger"
	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/room"
	"ephemeral-chat/internal/server"
	"ephemeral-chat/internal/store"
	"ephemeral-chat/internal/tasks"

	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger.Setup(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("[CONFIG] Server cannot start")
	}
	logger.Setup(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	codes, err := room.NewCodeGenerator(cfg.RoomCodeScheme)
	if err != nil {
		log.Fatal().Err(err).Msg("[REGISTRY] Cannot build room code generator")
	}
	registry := room.NewRegistry(codes, identity.NewPool(), room.Settings{
		HistoryLimit:  cfg.HistoryLimit,
		AssistantName: cfg.AssistantName,
		Trigger:       cfg.AssistantTrigger,
	})

	st, driver := store.Open(ctx, store.Config{
		Driver:      cfg.StoreDriver,
		SQLitePath:  cfg.SQLitePath,
		DatabaseURL: cfg.DatabaseURL,
		RedisAddr:   cfg.RedisAddr,
		RedisDB:     cfg.RedisDB,
	})
	defer st.Close()
	store.Restore(ctx, st, registry)
	m.RoomsActive.Set(float64(registry.Len()))

	persistCtx, stopPersist := context.WithCancel(context.Background())
	persister := store.NewPersister(st, registry, cfg.PersistDebounce, m)
	registry.OnChange(persister.MarkDirty)
	persistDone := make(chan struct{})
	go func() {
		persister.Run(persistCtx)
		close(persistDone)
	}()

	var (
		responder assistant.Responder = assistant.Echo{}
		imager    assistant.Imager    = assistant.Echo{}
	)
	if cfg.OpenAIKey != "" {
		o := assistant.NewOpenAI(assistant.OpenAIConfig{
			APIKey:     cfg.OpenAIKey,
			Model:      cfg.OpenAIModel,
			ImageModel: cfg.OpenAIImageModel,
		})
		responder, imager = o, o
		log.Info().Str("model", cfg.OpenAIModel).Msg("[ASSISTANT] Using OpenAI")
	} else {
		log.Info().Msg("[ASSISTANT] OPENAI_API_KEY not set, using offline echo replies")
	}

	hub := chat.NewHub(m)
	go hub.Run()

	router := chat.NewRouter(registry, chat.NewTracker(), hub, chat.Options{
		Responder:        responder,
		Imager:           imager,
		SystemPrompt:     cfg.SystemPrompt,
		AssistantTimeout: cfg.AssistantTimeout,
		Metrics:          m,
	})

	janitor := tasks.NewJanitor(registry, st, tasks.JanitorConfig{
		Schedule:          cfg.JanitorSchedule,
		RestoredRoomTTL:   cfg.RestoredRoomTTL,
		SnapshotRetention: cfg.SnapshotRetention,
	}, m)
	if err := janitor.Start(); err != nil {
		log.Fatal().Err(err).Msg("[WORKER] Janitor cannot start")
	}

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: server.NewRouter(server.Deps{
			Hub:          hub,
			Router:       router,
			Metrics:      m,
			CORSAllow:    cfg.CORSAllow,
			RateBurst:    cfg.RateBurst,
			RateInterval: cfg.RateInterval,
			BaseContext:  ctx,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", driver).Msg("[SERVER] Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("[SERVER] ListenAndServe")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("[SERVER] Shutdown signal received. Cleaning up...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("[SERVER] HTTP shutdown incomplete")
	}

	janitor.Stop()

	// Persist rooms as they are now, before closing connections empties
	// them, so a restart can bring them back.
	stopPersist()
	<-persistDone
	registry.OnChange(nil)

	close(hub.Quit)
	<-hub.Done()
	router.Close()

	log.Info().Msg("[SERVER] Graceful shutdown complete. Goodnight!")
}
