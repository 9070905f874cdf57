package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/httprate"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	config "github.com/avvvet/tcg-companion/configs"
	"github.com/avvvet/tcg-companion/internal/cards"
	"github.com/avvvet/tcg-companion/internal/db"
	natscli "github.com/avvvet/tcg-companion/internal/nats"
	"github.com/avvvet/tcg-companion/internal/session"
	"github.com/avvvet/tcg-companion/internal/store"
	"github.com/avvvet/tcg-companion/internal/websvc/broker"
	svcconfig "github.com/avvvet/tcg-companion/internal/websvc/config"
	"github.com/avvvet/tcg-companion/internal/websvc/handlers"
	"github.com/avvvet/tcg-companion/internal/websvc/ws"
)

const SERVICE_NAME = "web"

var instanceId string

func init() {
	instanceId = config.CreateUniqueInstance(SERVICE_NAME)
	config.LoadEnv(SERVICE_NAME)
	config.Logging(SERVICE_NAME + "_service_" + instanceId)
}

func main() {
	cfg, err := svcconfig.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// orphan ledger is optional for the web service
	var orphans cards.OrphanRecorder
	if cfg.DBUrl != "" {
		dbpool, err := db.Connect(cfg.DBUrl)
		if err != nil {
			log.Fatalf("Failed to connect to DB: %v", err)
		}
		defer db.ClosePool(dbpool)
		if err := db.Migrate(context.Background(), dbpool); err != nil {
			log.Fatalf("Failed to migrate DB: %v", err)
		}
		orphans = store.NewOrphanStore(dbpool)
		log.Printf("pg connection established successfully")
	} else {
		log.Warn("DATABASE_URL not set, orphaned uploads are only logged")
	}

	s := ws.NewWs(cfg.BackendURL, cfg.LoadingDelay)

	// card events reach sockets on other instances through NATS
	var events handlers.Events = s
	var sub *nats.Subscription
	n, err := natscli.Connect(cfg.NatsURL, cfg.NatsToken, SERVICE_NAME+"_service_"+instanceId)
	switch {
	case errors.Is(err, natscli.ErrDisabled):
		log.Warn("NATS_URL not set, card events stay on this instance")
	case err != nil:
		log.Fatalf("Error: unable to connect to NATS server %v", err)
	default:
		defer n.Conn.Close()
		log.Printf("NATS connection established successfully %s", n.Url)

		b := broker.NewBroker(n.Conn, s.SendToUser)
		sub, err = b.Subscribe()
		if err != nil {
			log.Fatalf("Error: unable to subscribe to %s %v", broker.Subject, err)
		}
		events = b
	}

	sessions := session.NewProvider(cfg.SessionSecret, cfg.BackendJWTSecret)

	// Setup router
	r := chi.NewRouter()
	c := config.CORS(cfg.AllowedOrigins)

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(config.CustomLoggerMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(c.Handler)

	// to protect the service api from any over requests
	r.Use(httprate.LimitByIP(cfg.RateLimit, 1*time.Minute))

	// Init handlers and routes
	h := handlers.NewHandler(cfg, sessions, s, events, orphans)
	h.SetRoutes(r)

	// no write timeout: proxied downloads and the shape long polls stream
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("%s service running at port %s", SERVICE_NAME, server.Addr)

	// Wait for interrupt signal to gracefully shutdown the server
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if sub != nil {
		sub.Unsubscribe()
	}
	s.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("%s service shutdown Failed:%+v", SERVICE_NAME, err)
	}
	log.Infof("%s service gracefully stopped", SERVICE_NAME)
}
