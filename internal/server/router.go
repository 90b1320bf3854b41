package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"ephemeral-chat/internal/chat"
	"ephemeral-chat/internal/metrics"
	"ephemeral-chat/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

type Deps struct {
	Hub     *chat.Hub
	Router  *chat.Router
	Metrics *metrics.Metrics

	CORSAllow    []string
	RateBurst    int
	RateInterval time.Duration
	// BaseContext outlives individual requests; connection pumps derive
	// from it.
	BaseContext context.Context
}

func NewRouter(d Deps) http.Handler {
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	if len(d.CORSAllow) == 0 {
		d.CORSAllow = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: d.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		select {
		case <-d.Hub.Done():
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}
	r.Get("/ws", serveWS(d))

	return r
}

func serveWS(d Deps) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(d.CORSAllow),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("[SERVER] Upgrade error")
			return
		}

		limiter := middleware.NewRatelimiter(d.RateBurst, d.RateInterval)
		client := chat.NewClient(d.Hub, conn, d.Router, limiter)
		if !client.Serve(d.BaseContext) {
			log.Warn().Msg("[SERVER] Hub closed, rejecting connection")
			return
		}
		log.Debug().Str("conn", client.ID.String()).Str("remote", r.RemoteAddr).Msg("[SERVER] Connection accepted")
	}
}

// originChecker allows same-host requests, requests without an Origin header
// and any origin listed in allowed. "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
