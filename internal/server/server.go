package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teamchat/realtime/internal/auth"
	"github.com/teamchat/realtime/internal/metrics"
	"github.com/teamchat/realtime/internal/realtime"
	"github.com/teamchat/realtime/internal/router"
	"github.com/teamchat/realtime/internal/server/middleware"
	"github.com/teamchat/realtime/internal/store"
	"github.com/teamchat/realtime/pkg/config"
	"github.com/teamchat/realtime/pkg/transport"
)

// closer is the shutdown-capable side of a registered connection.
type closer interface {
	Close(err error)
}

type App struct {
	logger      *slog.Logger
	store       *store.Store
	authSvc     *auth.Service
	registry    *realtime.Registry
	dispatcher  *realtime.Dispatcher
	eventRouter *router.EventRouter
	wg          sync.WaitGroup
	http        *http.Server
	config      *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.New(cfg.Storage.Path, logger)
	if err != nil {
		return nil, err
	}

	registry := realtime.NewRegistry(logger)
	rooms := realtime.NewRooms(logger)
	typing := realtime.NewTyping()
	dispatcher := realtime.NewDispatcher(logger, registry, rooms, typing, st,
		realtime.ChannelEventScope(cfg.Realtime.ChannelEventScope))
	authSvc := auth.NewService(logger, st, cfg.Server.Auth.JWTSecret, cfg.Server.Auth.TokenTTL)

	app := &App{
		logger:      logger,
		store:       st,
		authSvc:     authSvc,
		registry:    registry,
		dispatcher:  dispatcher,
		eventRouter: router.NewEventRouter(logger, dispatcher),
		config:      cfg,
		ctx:         rootCtx,
	}

	connCounter := func(userID string) int {
		return len(registry.ConnectionsForUser(userID))
	}
	// Closes one of the user's existing connections to make room for a
	// new one when the limiter runs in "cycle" mode.
	connCycler := func(userID string) {
		for _, id := range registry.ConnectionsForUser(userID) {
			if sender, ok := registry.Sender(id); ok {
				if c, ok := sender.(closer); ok {
					logger.Info("Cycling connection: closing existing", slog.String("userID", userID), slog.String("connID", id.String()))
					c.Close(errors.New("connection cycled by new connection"))
					return
				}
			}
		}
	}

	m := mux.NewRouter()

	public := []middleware.Middleware{
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
	}
	protected := append(append([]middleware.Middleware{}, public...),
		middleware.NewAuthMiddleware(logger, authSvc.VerifyToken),
	)
	chain := func(h http.HandlerFunc, mws []middleware.Middleware) http.Handler {
		return middleware.Chain(h, mws...)
	}

	m.HandleFunc("/health", app.handleHealth).Methods(http.MethodGet)
	m.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	m.Handle("/api/auth/signup", chain(app.handleSignup, public)).Methods(http.MethodPost)
	m.Handle("/api/auth/login", chain(app.handleLogin, public)).Methods(http.MethodPost)
	m.Handle("/api/auth/logout", chain(app.handleLogout, protected)).Methods(http.MethodPost)
	m.Handle("/api/auth/me", chain(app.handleMe, protected)).Methods(http.MethodGet)

	m.Handle("/api/channels", chain(app.handleListChannels, protected)).Methods(http.MethodGet)
	m.Handle("/api/channels", chain(app.handleCreateChannel, protected)).Methods(http.MethodPost)
	m.Handle("/api/channels/{id}", chain(app.handleGetChannel, protected)).Methods(http.MethodGet)
	m.Handle("/api/channels/{id}/join", chain(app.handleJoinChannel, protected)).Methods(http.MethodPost)
	m.Handle("/api/channels/{id}/leave", chain(app.handleLeaveChannel, protected)).Methods(http.MethodPost)

	m.Handle("/api/messages", chain(app.handleGetMessages, protected)).Methods(http.MethodGet)
	m.Handle("/api/messages", chain(app.handleCreateMessage, protected)).Methods(http.MethodPost)
	m.Handle("/api/messages/search", chain(app.handleSearchMessages, protected)).Methods(http.MethodGet)
	m.Handle("/api/messages/{id}", chain(app.handleUpdateMessage, protected)).Methods(http.MethodPatch)
	m.Handle("/api/messages/{id}", chain(app.handleDeleteMessage, protected)).Methods(http.MethodDelete)

	m.Handle("/ws", middleware.Chain(http.HandlerFunc(app.upgradeHandler),
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
		middleware.NewAuthMiddleware(logger, authSvc.VerifyToken),
		middleware.NewConnectionLimiter(logger, connCounter, connCycler, cfg.Server.ConnectionLimit),
	))

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: m, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

func (a *App) Run() error {
	if ttl := a.config.Realtime.TypingTTL; ttl > 0 {
		go a.dispatcher.RunTypingSweeper(a.ctx, ttl, a.config.Realtime.TypingSweepInterval)
	}

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("userID", reqMeta.UserID),
	)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	if err := a.dispatcher.Connect(conn.ID(), conn); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	metrics.ConnectionsActive.Inc()

	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		metrics.ConnectionsActive.Dec()
		connLogger.Info("Deregistering connection due to closure", slog.String("connID", id.String()))
		a.dispatcher.Disconnect(id)
	})

	connLogger.Info("User connection fully established")
	conn.Run()
	<-conn.Done()
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, sender := range a.registry.AllSenders(nil) {
		if c, ok := sender.(closer); ok {
			c.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close store", slog.Any("error", err))
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
