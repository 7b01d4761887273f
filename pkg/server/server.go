// Package server provides the HTTP, WebSocket and Connect endpoints of the engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/otelconnect"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/model"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/server/auth"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/service/engine"
)

const maxFrameSize = 1 << 20

// LapSource provides persisted laps of a session
type LapSource interface {
	Laps(ctx context.Context, sessionID uuid.UUID) ([]*model.DbLap, error)
}

type Server struct {
	engine       *engine.Engine
	auth         *auth.Authenticator
	laps         LapSource
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	l            *log.Logger
}

type Option func(*Server)

func WithAuthenticator(a *auth.Authenticator) Option {
	return func(s *Server) {
		s.auth = a
	}
}

// WithLapSource enables the lap endpoint
func WithLapSource(src LapSource) Option {
	return func(s *Server) {
		s.laps = src
	}
}

// WithWriteTimeout sets the max time to deliver a frame to a websocket client
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = d
	}
}

func New(e *engine.Engine, opts ...Option) *Server {
	ret := &Server{
		engine:       e,
		auth:         auth.NewAuthenticator(),
		writeTimeout: 2 * time.Second,
		upgrader: websocket.Upgrader{
			// overlays are served from arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		l: log.Default().Named("server"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Mux returns the routes without cors/h2c wrapping
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.Handle("POST /api/frame", s.auth.RequireProvider(http.HandlerFunc(s.handleFrame)))
	mux.HandleFunc("GET /api/report", s.handleReport)
	mux.Handle("POST /api/reset", s.auth.RequireProvider(http.HandlerFunc(s.handleReset)))
	mux.HandleFunc("GET /api/history/{id}", s.handleHistory)
	mux.Handle("DELETE /api/history/{id}",
		s.auth.RequireProvider(http.HandlerFunc(s.handleRemove)))
	mux.HandleFunc("GET /api/laps/{session}", s.handleLaps)
	s.registerGapService(mux)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker(GapServiceName)))
	return mux
}

func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(newCORS().Handler(s.Mux()), &http2.Server{})
}

// Serve runs the http server until ctx is done
func (s *Server) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errChan := make(chan error, 1)
	go func() {
		s.l.Info("Starting http server", log.String("addr", addr))
		errChan <- server.ListenAndServe()
	}()
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errChan; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := s.engine.HandleRaw(r.Context(), data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	report := s.engine.Processor().Latest()
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, report)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.l.Info("reset requested",
		log.String("principal", auth.FromContext(r.Context()).Principal()))
	s.engine.Processor().Reset(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	cps, ok := s.engine.Processor().History(model.EntityID(id))
	if !ok {
		http.Error(w, "unknown entity", http.StatusNotFound)
		return
	}
	s.writeJSON(w, cps)
}

// handleRemove drops the history of an entity which left the session
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if !s.engine.Processor().Remove(model.EntityID(id)) {
		http.Error(w, "unknown entity", http.StatusNotFound)
		return
	}
	s.l.Info("history removed",
		log.Int("carIdx", id),
		log.String("principal", auth.FromContext(r.Context()).Principal()))
	w.WriteHeader(http.StatusNoContent)
}

// handleLaps returns the persisted laps of a session.
// The session "current" refers to the running session.
func (s *Server) handleLaps(w http.ResponseWriter, r *http.Request) {
	if s.laps == nil {
		http.Error(w, "lap recorder disabled", http.StatusNotFound)
		return
	}
	session := r.PathValue("session")
	if session == "current" {
		session = s.engine.Processor().SessionID()
	}
	sessionID, err := uuid.Parse(session)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	laps, err := s.laps.Laps(r.Context(), sessionID)
	if err != nil {
		s.l.Warn("could not load laps", log.ErrorField(err))
		http.Error(w, "could not load laps", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, laps)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Warn("could not write response", log.ErrorField(err))
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.l.Debug("websocket upgrade failed", log.ErrorField(err))
		return
	}
	defer conn.Close()
	l := s.l.With(log.String("remote", r.RemoteAddr))
	l.Debug("websocket client connected")

	frames := s.engine.Subscribe()
	defer s.engine.Unsubscribe(frames)

	// we don't expect messages from clients, reading detects closed connections
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			l.Debug("websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case data, ok := <-frames:
			if !ok {
				//nolint:errcheck // best effort
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return
			}
			//nolint:errcheck // checked by WriteMessage
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.Debug("dropping websocket client", log.ErrorField(err))
				return
			}
		}
	}
}

// registerGapService registers the Connect procedures of the gap service
func (s *Server) registerGapService(mux *http.ServeMux) {
	interceptors := []connect.Interceptor{auth.NewAuthInterceptor(s.auth)}
	if otelInterceptor, err := otelconnect.NewInterceptor(); err == nil {
		interceptors = append([]connect.Interceptor{otelInterceptor}, interceptors...)
	} else {
		s.l.Warn("could not create otel interceptor", log.ErrorField(err))
	}
	svc := &gapService{engine: s.engine}
	opts := connect.WithInterceptors(interceptors...)
	mux.Handle(GetReportProcedure,
		connect.NewUnaryHandler(GetReportProcedure, svc.GetReport, opts))
	mux.Handle(ResetProcedure,
		connect.NewUnaryHandler(ResetProcedure, svc.Reset, opts))
}

func newCORS() *cors.Cors {
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{
			"Accept",
			"Accept-Encoding",
			"Accept-Post",
			"Connect-Accept-Encoding",
			"Connect-Content-Encoding",
			"Content-Encoding",
			"Grpc-Accept-Encoding",
			"Grpc-Encoding",
			"Grpc-Message",
			"Grpc-Status",
			"Grpc-Status-Details-Bin",
		},
	})
}
