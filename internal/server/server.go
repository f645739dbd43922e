package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/xcbridge/internal/bridge"
	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Device is the command surface exposed over HTTP. *bridge.Session
// satisfies it.
type Device interface {
	AppVersion(ctx context.Context) (string, error)
	AppName(ctx context.Context) (string, error)
	LastError(ctx context.Context) (string, error)
	RebootIntoUpdateMode(ctx context.Context) error
	Info() bridge.Info
}

var _ Device = (*bridge.Session)(nil)

type Options struct {
	Addr        string
	CorsOrigins []string
	// AuthSecret, when set, requires an HS256 bearer token on control routes.
	AuthSecret string
	Logger     *zerolog.Logger
}

// Server is the HTTP front for one bridge session.
type Server struct {
	addr       string
	authSecret string
	device     Device
	router     *gin.Engine
	started    time.Time
	log        zerolog.Logger
}

func New(device Device, opts Options) *Server {
	observability.RegisterMetrics()
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "http").Logger()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.HTTPObserver(logger, "xcbridge"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(opts.CorsOrigins),
		AllowMethods:  []string{"GET", "POST"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:       opts.Addr,
		authSecret: opts.AuthSecret,
		device:     device,
		router:     r,
		started:    time.Now(),
		log:        logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on the configured address until ctx is cancelled, then
// drains in-flight requests.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("http server stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
