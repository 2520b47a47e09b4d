// Package sensor receives notifications posted by the device-side listener.
//
//	POST /v1/notifications
//	Authorization: Bearer <token>
//	{"source":"com.alibaba.android.rimet","title":"考勤打卡","text":"...","at":"2026-10-14T08:31:02+08:00"}
package sensor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	rtsup "dailytask/internal/runtime/supervisor"
	kit "dailytask/internal/transport"
	logx "dailytask/pkg/logx"
)

// Config controls the inbound HTTP listener.
//
// Binding to a non-loopback address requires Token or AllowInsecure.
type Config struct {
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same token.
	Pprof bool
}

const (
	defaultAddr    = "127.0.0.1:8787"
	defaultMaxBody = 64 << 10
	pathNotify     = "/v1/notifications"
)

// Payload is the request body.
type Payload struct {
	Source string    `json:"source"`
	Title  string    `json:"title"`
	Text   string    `json:"text"`
	At     time.Time `json:"at,omitempty"`
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	now func() time.Time

	out chan<- kit.Inbound
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

var _ kit.Source = (*Service)(nil)

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, now: time.Now}
}

// Addr returns the bound listener address, or "" before Start.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) Start(ctx context.Context, out chan<- kit.Inbound) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup != nil {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = defaultAddr
	}
	if !cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		s.mu.Unlock()
		return fmt.Errorf("sensor: non-loopback addr %s requires token or allow_insecure", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("sensor listen: %w", err)
	}
	s.out = out
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	srv := s.srv
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "sensor"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	if cfg.AllowInsecure && cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("sensor running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}
	s.log.Info("sensor started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""), logx.Bool("pprof", cfg.Pprof))

	sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		}()
		err := srv.Serve(ln)
		if c.Err() != nil || errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.srv, s.sup, s.ln, s.out = nil, nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.log.Info("sensor stopped")
	return nil
}

// Handler serves the sensor routes; exposed for tests.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc(pathNotify, wrap(s.handleNotify(cfg)))
	if cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", wrap(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", wrap(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", wrap(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", wrap(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", wrap(hpprof.Trace))
	}
	return mux
}

func (s *Service) handleNotify(cfg Config) http.HandlerFunc {
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBody
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
			return
		}
		var p Payload
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: " + err.Error()})
			return
		}
		p.Source = strings.TrimSpace(p.Source)
		if p.Source == "" || strings.TrimSpace(p.Text) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "source and text are required"})
			return
		}
		if p.At.IsZero() {
			p.At = s.now()
		}

		s.mu.Lock()
		out := s.out
		s.mu.Unlock()
		if out == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "not running"})
			return
		}
		in := kit.Inbound{SourceID: p.Source, Title: p.Title, Text: p.Text, At: p.At}
		select {
		case out <- in:
			writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
			s.log.Warn("sensor queue full; notification dropped", logx.String("source", p.Source))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "queue full"})
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
