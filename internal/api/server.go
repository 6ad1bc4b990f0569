// Package api serves read-only access to event log channels over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tuanbt/logscope/internal/auth"
	"github.com/tuanbt/logscope/internal/counting"
	"github.com/tuanbt/logscope/internal/eventlog"
	"github.com/tuanbt/logscope/internal/filter"
	"github.com/tuanbt/logscope/internal/monitor"
	"github.com/tuanbt/logscope/internal/query"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// Options configures a Server.
type Options struct {
	Listen           string
	PageSize         int
	Parallelism      int
	MonitorQueueSize int
}

// Server exposes channels, pages, counts and live tails behind bearer auth.
type Server struct {
	source  eventlog.Source
	engine  *query.Engine
	auth    *auth.Handler
	logger  *slog.Logger
	opts    Options
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

// New builds the route table. authHandler may be nil to serve without
// authentication, which tests use.
func New(source eventlog.Source, authHandler *auth.Handler, logger *slog.Logger, opts Options) *Server {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	s := &Server{
		source: source,
		engine: query.NewEngine(source, logger, opts.Parallelism),
		auth:   authHandler,
		logger: logger,
		opts:   opts,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/channels", s.protect(s.handleChannels))
	mux.HandleFunc("/api/page", s.protect(s.handlePage))
	mux.HandleFunc("/api/count", s.protect(s.handleCount))
	mux.HandleFunc("/api/tail", s.protect(s.handleTail))
	if authHandler != nil {
		authHandler.SetupRoutes(mux)
	}
	s.handler = mux

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	// Live tails end with the server instead of holding Shutdown open.
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("api server listening", "address", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}

func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	if s.auth == nil {
		return next
	}
	return s.auth.AuthMiddleware(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	names, err := s.source.ListChannels(r.Context())
	if err != nil {
		s.writeDomainError(w, "", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, ChannelsResponse{Channels: names})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pageIndex, err := intParam(q.Get("page"), 0)
	if err != nil || pageIndex < 0 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := intParam(q.Get("size"), s.opts.PageSize)
	if err != nil || pageSize <= 0 || pageSize > maxPageSize {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}

	res, err := s.engine.FetchPage(r.Context(), eventlog.PageRequest{
		Channel:   channel,
		Since:     since,
		PageIndex: pageIndex,
		PageSize:  pageSize,
	})
	if err != nil {
		s.writeDomainError(w, channel, err)
		return
	}

	pred := viewPredicate(q, s.logger)
	visible := make([]eventlog.Record, 0, len(res.Records))
	for _, rec := range res.Records {
		if pred(rec) {
			visible = append(visible, rec)
		}
	}
	writeJSON(w, http.StatusOK, PageResponse{
		Channel:   channel,
		Since:     since,
		PageIndex: pageIndex,
		PageSize:  pageSize,
		HasMore:   res.HasMore,
		Skipped:   res.Skipped,
		Loaded:    len(res.Records),
		Records:   visible,
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := CountResponse{Channel: channel, Since: since}
	if q.Get("estimate") == "true" && channel != eventlog.AllChannels {
		if est := s.source.Capabilities().Estimator; est != nil {
			if n, err := est.EstimateCount(r.Context(), channel, since); err == nil {
				resp.Estimate = &n
			} else {
				s.logger.Debug("estimate failed", "channel", channel, "error", err)
			}
		}
	}

	total, err := counting.Count(r.Context(), s.source, s.logger, channel, since)
	if err != nil {
		s.writeDomainError(w, channel, err)
		return
	}
	resp.Count = total
	writeJSON(w, http.StatusOK, resp)
}

// handleTail streams live records as newline-delimited JSON until the
// client disconnects or the feed fails.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	channel := strings.TrimSpace(q.Get("channel"))
	if channel == "" || channel == eventlog.AllChannels {
		writeError(w, http.StatusBadRequest, "a single channel is required")
		return
	}

	mgr := monitor.NewManager(s.source, s.logger, s.opts.MonitorQueueSize)
	defer mgr.Close()
	sub, err := mgr.Subscribe(r.Context(), channel)
	if err != nil {
		s.writeDomainError(w, channel, err)
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	pred := viewPredicate(q, s.logger)
	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case rec, ok := <-sub.Records():
			if !ok {
				if err := sub.Err(); err != nil {
					s.logger.Warn("tail ended", "channel", channel, "error", err)
				}
				return
			}
			if !pred(rec) {
				continue
			}
			if err := enc.Encode(rec); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// viewPredicate builds the filter and search predicate from query parameters.
func viewPredicate(q map[string][]string, logger *slog.Logger) filter.Predicate {
	get := func(key string) string {
		if v := q[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	criteria := filter.Criteria{
		Levels:   filter.ParseLevels(get("levels")),
		IDs:      get("ids"),
		Source:   get("source"),
		Keyword:  get("keyword"),
		User:     get("user"),
		Computer: get("computer"),
	}
	return filter.And(filter.Build(criteria, logger), filter.Search(get("search"), logger))
}

func parseSince(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return time.Now().Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid since %q: use RFC 3339 or a duration such as 24h", value)
}

func intParam(value string, def int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	return strconv.Atoi(value)
}

func (s *Server) writeDomainError(w http.ResponseWriter, channel string, err error) {
	kind := eventlog.Classify(err)
	code := http.StatusInternalServerError
	switch kind {
	case eventlog.KindAccessDenied:
		code = http.StatusForbidden
	case eventlog.KindNotFound:
		code = http.StatusNotFound
	case eventlog.KindInvalid:
		code = http.StatusBadRequest
	case eventlog.KindCanceled:
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "channel", channel, "error", err)
	}
	writeJSON(w, code, ErrorResponse{Error: eventlog.StatusText(channel, err), Kind: kind.String()})
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
