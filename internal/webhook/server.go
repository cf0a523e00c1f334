package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"salonbot/internal/config"
	"salonbot/internal/journal"
	"salonbot/internal/metrics"
	"salonbot/internal/whatsapp"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxWebhookBody = 1 << 20 // платформа шлет небольшие пакеты

// JournalReader is the read side of the message journal used by the ops
// endpoints.
type JournalReader interface {
	BuildReport(ctx context.Context, from, to time.Time) (*journal.Report, error)
	ExportExcel(ctx context.Context, from, to time.Time) ([]byte, error)
}

// Pinger reports session-store health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server terminates the platform webhook plus the operational endpoints.
type Server struct {
	cfg       *config.Config
	validator *SignatureValidator
	processor *Processor
	journal   JournalReader
	pinger    Pinger
	auth      *HTTPAuth
	server    *http.Server
	logger    *zerolog.Logger
}

func NewServer(cfg *config.Config, validator *SignatureValidator, processor *Processor, journalReader JournalReader, pinger Pinger, logger *zerolog.Logger) *Server {
	srv := &Server{
		cfg:       cfg,
		validator: validator,
		processor: processor,
		journal:   journalReader,
		pinger:    pinger,
		auth:      NewHTTPAuth(cfg.Ops),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", srv.handleWebhook)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/api/v1/journal/report", srv.auth.Wrap(http.HandlerFunc(srv.handleJournalReport)))
	mux.Handle("/api/v1/journal/export", srv.auth.Wrap(http.HandlerFunc(srv.handleJournalExport)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.WhatsApp.ListenPort),
		Handler:           srv.loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Вебхук-сервер запущен")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleVerify(w, r)
	case http.MethodPost:
		s.handleDelivery(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleVerify answers the platform's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WhatsApp.VerifyToken)) != 1 {
		metrics.IncWebhook("verify_rejected")
		writeError(w, http.StatusForbidden, "verification failed")
		return
	}

	metrics.IncWebhook("verify_ok")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		metrics.IncWebhook("read_error")
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	// Подпись проверяется по сырым байтам тела, до любого парсинга
	if !s.validator.Validate(r.Header.Get("X-Hub-Signature-256"), body) {
		metrics.IncWebhook("unauthorized")
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("Вебхук с неверной подписью отклонен")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Аутентичный, но нечитаемый пакет: отвечаем 200, чтобы платформа
		// не повторяла доставку бесконечно
		metrics.IncWebhook("malformed")
		s.logger.Error().Err(err).Msg("Не удалось разобрать тело вебхука")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	metrics.IncWebhook("ok")
	s.processor.Process(r.Context(), &payload)
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			// Работаем дальше на резервном хранилище, но сигналим деградацию
			status["status"] = "degraded"
			status["store"] = err.Error()
		}
	}

	writeJSON(w, code, status)
}

func (s *Server) handleJournalReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to, err := reportWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.journal.BuildReport(r.Context(), from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("Не удалось собрать отчет по журналу")
		writeError(w, http.StatusInternalServerError, "report failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleJournalExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to, err := reportWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.journal.ExportExcel(r.Context(), from, to)
	if err != nil {
		s.logger.Error().Err(err).Msg("Не удалось выгрузить журнал в Excel")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	fileName := fmt.Sprintf("journal_%s_to_%s.xlsx", from.Format("2006-01-02"), to.Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// reportWindow parses from/to query params, defaulting to the last 7 days.
func reportWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now.AddDate(0, 0, 1)

	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date: %s", raw)
		}
		from = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date: %s", raw)
		}
		to = parsed.AddDate(0, 0, 1)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to is before from")
	}
	return from, to, nil
}

// HTTPAuth provides API-key auth and per-key rate limiting for the ops
// endpoints. The webhook itself is authenticated by signature, not by key.
type HTTPAuth struct {
	cfg      config.OpsConfig
	clients  map[string]config.OpsClientKey
	limiters sync.Map // map[string]*rate.Limiter
}

func NewHTTPAuth(cfg config.OpsConfig) *HTTPAuth {
	m := make(map[string]config.OpsClientKey, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		key, err := a.checkAuth(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		if !a.allow(key) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) (string, error) {
	header := strings.TrimSpace(strings.ToLower(a.cfg.HeaderAPIKey))
	if header == "" {
		header = "x-api-key"
	}

	apiKey := strings.TrimSpace(r.Header.Get(header))
	if apiKey == "" {
		return "", fmt.Errorf("missing api key header")
	}

	for stored := range a.clients {
		if subtle.ConstantTimeCompare([]byte(stored), []byte(apiKey)) == 1 {
			return stored, nil
		}
	}
	return "", fmt.Errorf("invalid api key")
}

func (a *HTTPAuth) allow(key string) bool {
	if a.cfg.RateLimit.RPS <= 0 {
		return true
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}
	lim, _ := a.limiters.LoadOrStore(key, rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst))
	return lim.(*rate.Limiter).Allow()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
