package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
	"github.com/agyn-ub/eth-minority-rule-sub000/backend/server/websocket"
	"github.com/agyn-ub/eth-minority-rule-sub000/backend/service"
)

const (
	defaultShutdownDeadline  = 10 * time.Second
	defaultReadHeaderTimeout = 5 * time.Second

	maxNotifyBodySize = 1 << 20
)

const (
	msgInvalidPayload = "Invalid payload format"
	msgInternal       = "Internal server error"
	msgNotFound       = "Not found"
	msgTooLarge       = "Payload too large"
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

type RelayService interface {
	Notify(n model.Notification) error
	Stats() service.Stats
}

type GenericResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
	Timestamp   string         `json:"timestamp"`
}

type Server struct {
	logger zerolog.Logger
	svc    RelayService
	now    func() time.Time
	*http.Server
}

type Config struct {
	Logger       *zerolog.Logger
	RelayService RelayService
	// WebSocket serves every request that asks for an upgrade, whatever the path.
	WebSocket  http.Handler
	ListenAddr string
	// Clock defaults to time.Now.
	Clock func() time.Time
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger: cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:    cfg.RelayService,
		now:    cfg.Clock,
	}
	if srv.now == nil {
		srv.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(srv.recoverer, cors)
	if cfg.WebSocket != nil {
		r.Use(upgrader(cfg.WebSocket))
	}
	r.Use(srv.logRequests)

	r.Get("/health", srv.health)
	r.Post("/api/notify", srv.notify)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	srv.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return srv
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func upgrader(ws http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if websocket.IsUpgrade(r) {
				ws.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (srv *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			srv.logger.Error().
				Interface("panic", rvr).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("handler panicked")
			srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: msgInternal})
		}()
		next.ServeHTTP(w, r)
	})
}

func (srv *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		srv.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request served")
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	b, _ := json.Marshal(&GenericResponse{Error: msgNotFound})
	writeBytes(w, http.StatusNotFound, b)
}

func (srv *Server) health(w http.ResponseWriter, _ *http.Request) {
	stats := srv.svc.Stats()
	srv.writeJSON(w, http.StatusOK, &HealthResponse{
		Status:      "ok",
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
		Timestamp:   srv.now().UTC().Format(model.TimestampLayout),
	})
}

func (srv *Server) notify(w http.ResponseWriter, r *http.Request) {
	var n model.Notification
	r.Body = http.MaxBytesReader(w, r.Body, maxNotifyBodySize)
	body, err := io.ReadAll(r.Body)
	defer func() {
		_ = r.Body.Close()
	}()
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		srv.logger.Warn().Int64("limit", tooLarge.Limit).Msg("notification body too large")
		srv.writeJSON(w, http.StatusRequestEntityTooLarge, &GenericResponse{Error: msgTooLarge})
		return
	case err != nil:
		srv.logger.Error().Err(err).Msg("failed to read notification body")
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: msgInternal})
		return
	}
	if err = json.Unmarshal(body, &n); err != nil {
		srv.logger.Debug().Err(err).Msg("undecodable notification")
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: msgInvalidPayload})
		return
	}

	err = srv.svc.Notify(n)
	switch {
	case errors.Is(err, model.ErrInvalidNotification):
		srv.logger.Debug().Err(err).Msg("invalid notification")
		srv.writeJSON(w, http.StatusBadRequest, &GenericResponse{Error: msgInvalidPayload})
	case err != nil:
		srv.logger.Error().Err(err).Msg("failed to process notification")
		srv.writeJSON(w, http.StatusInternalServerError, &GenericResponse{Error: msgInternal})
	default:
		srv.logger.Debug().
			Str("eventType", string(n.EventType)).
			Str("gameId", n.GameID).
			Msg("notification accepted")
		srv.writeJSON(w, http.StatusAccepted, &GenericResponse{Status: "accepted"})
	}
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeBytes(w, code, b)
}

func writeBytes(w http.ResponseWriter, code int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error, 1)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
