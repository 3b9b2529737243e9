package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rogeriochaves/pinacle-sub001/internal/domain"
	"github.com/rogeriochaves/pinacle-sub001/internal/orchestrator"
	"github.com/rogeriochaves/pinacle-sub001/internal/proxyauth"
	"github.com/rogeriochaves/pinacle-sub001/internal/repository"
	podspec "github.com/rogeriochaves/pinacle-sub001/internal/spec"
	"github.com/rogeriochaves/pinacle-sub001/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	rateLimitProxyAuth = 120
	healthCheckTimeout = 2 * time.Second
)

// Config carries the router's dependencies.
type Config struct {
	Logger        *slog.Logger
	Orchestrator  *orchestrator.Orchestrator
	Checker       *proxyauth.Checker
	Pods          repository.PodRepository
	Hub           *ws.Hub
	Limiter       RateLimiter
	SessionSecret string
	ProxySecret   string
	ProxyDomain   string
	UpstreamHost  string
	DBHealth      func(context.Context) error
}

// Router wires HTTP endpoints to the orchestrator and the access-checked
// pod proxy. Requests whose Host falls under the proxy domain are routed
// to the proxy handler; everything else hits the control API mux.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	orch     *orchestrator.Orchestrator
	checker  *proxyauth.Checker
	pods     repository.PodRepository
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter

	sessionSecret string
	proxySecret   string
	proxyDomain   string
	upstreamHost  string
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	proxyDecisions     *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  logger,
		orch:    cfg.Orchestrator,
		checker: cfg.Checker,
		pods:    cfg.Pods,
		hub:     cfg.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       cfg.Limiter,
		sessionSecret: cfg.SessionSecret,
		proxySecret:   cfg.ProxySecret,
		proxyDomain:   strings.ToLower(strings.TrimSpace(cfg.ProxyDomain)),
		upstreamHost:  cfg.UpstreamHost,
		dbHealth:      cfg.DBHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.upstreamHost == "" {
		r.upstreamHost = "127.0.0.1"
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP routes proxy-domain hosts to the proxy, everything else to the
// control API.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.isProxyHost(req) {
		r.audit(r.handleProxy)(w, req)
		return
	}
	r.mux.ServeHTTP(w, req)
}

func (r *Router) isProxyHost(req *http.Request) bool {
	if r.proxyDomain == "" {
		return false
	}
	host := strings.ToLower(hostOnly(req.Host))
	return host != r.proxyDomain && strings.HasSuffix(host, "."+r.proxyDomain)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/pods", r.audit(r.handlerAuthRate("/pods", rateLimitUserWrite, rateWindowDefault, r.handlePods)))
	r.mux.HandleFunc("/pods/resolve", r.audit(r.handlerAuthRate("/pods/resolve", rateLimitUserWrite, rateWindowDefault, r.handleResolve)))
	r.mux.HandleFunc("/pods/", r.audit(r.handlerAuthRate("/pods/", rateLimitUserWrite, rateWindowDefault, r.handlePodSubroutes)))
	r.mux.HandleFunc("/proxy/auth", r.audit(r.handlerAuthRate("/proxy/auth", rateLimitProxyAuth, rateWindowDefault, r.handleProxyAuth)))
	r.mux.HandleFunc("/ws/logs", r.audit(r.handlerAuthRate("/ws/logs", rateLimitWebsocket, rateWindowRealtime, r.handleLogsWS)))
}

func (r *Router) handlePods(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleListPods(w, req)
		return
	case http.MethodPost:
	default:
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Name   string `json:"name"`
		TeamID string `json:"team_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for pod creation", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	pod, err := r.orch.CreatePod(req.Context(), payload.Name, info.UserID, payload.TeamID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, pod)
}

func (r *Router) handleListPods(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for pod listing", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	pods, err := r.pods.ListPodsByOwner(req.Context(), info.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if pods == nil {
		pods = []domain.Pod{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pods": pods})
}

func (r *Router) handleResolve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Template  string          `json:"template"`
		Overrides *domain.PodSpec `json:"overrides"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resolved, problems, err := r.orch.ResolveAndValidate(payload.Template, payload.Overrides)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sealed, err := r.orch.SealSecrets(resolved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"spec":     sealed,
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

func (r *Router) handlePodSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/pods/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 1 || parts[0] == "" {
		r.notFound(w)
		return
	}
	podID := parts[0]

	pod, ok := r.authorizePod(w, req, podID)
	if !ok {
		return
	}

	if len(parts) == 1 {
		if req.Method != http.MethodDelete {
			r.methodNotAllowed(w)
			return
		}
		if err := r.orch.Delete(req.Context(), pod.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	}

	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "provision":
		r.handleLifecycle(w, req, pod, r.orch.Provision)
	case "start":
		r.handleLifecycle(w, req, pod, r.orch.Start)
	case "stop":
		r.handleLifecycle(w, req, pod, r.orch.Stop)
	case "logs":
		r.handlePodLogs(w, req, pod)
	case "status":
		r.handlePodStatus(w, req, pod)
	default:
		r.notFound(w)
	}
}

// handleLifecycle runs one pod lifecycle transition in the background.
// The spec arrives sealed from the dashboard; secrets are opened here,
// never echoed back.
func (r *Router) handleLifecycle(w http.ResponseWriter, req *http.Request, pod *domain.Pod, op func(context.Context, domain.PodSpec) error) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var sealed domain.PodSpec
	if err := json.NewDecoder(req.Body).Decode(&sealed); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	sealed.ID = pod.ID
	sealed.Slug = pod.Slug
	spec, err := r.orch.OpenSecrets(sealed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if result := podspec.Validate(spec); !result.Valid {
		writeProblems(w, "spec validation failed", result.Errors)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()
		if err := op(ctx, spec); err != nil {
			r.logger.Error("pod lifecycle operation failed", "pod_id", pod.ID, "error", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "pod_id": pod.ID})
}

func (r *Router) handlePodLogs(w http.ResponseWriter, req *http.Request, pod *domain.Pod) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	service := strings.TrimSpace(req.URL.Query().Get("service"))
	if service == "" {
		writeError(w, http.StatusBadRequest, "service query parameter required")
		return
	}
	tail, _ := strconv.Atoi(req.URL.Query().Get("tail"))
	logs, err := r.orch.ServiceLogs(req.Context(), pod.ID, service, tail)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"service": service, "logs": logs})
}

func (r *Router) handlePodStatus(w http.ResponseWriter, req *http.Request, pod *domain.Pod) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	spec := domain.PodSpec{ID: pod.ID, Slug: pod.Slug}
	for _, name := range strings.Split(req.URL.Query().Get("services"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			spec.Services = append(spec.Services, domain.ServiceConfig{Name: name, Enabled: true})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pod":      pod,
		"services": r.orch.Status(req.Context(), spec),
	})
}

// authorizePod loads the pod and applies the same owner-or-team rule the
// proxy uses. Missing pods and denied pods both end the request here.
func (r *Router) authorizePod(w http.ResponseWriter, req *http.Request, podID string) (*domain.Pod, bool) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for pod route", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return nil, false
	}
	pod, err := r.pods.GetPodByID(req.Context(), podID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.notFound(w)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	decision, err := r.checker.CheckPodAccess(req.Context(), info.UserID, pod.Slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if !decision.HasAccess {
		writeError(w, http.StatusForbidden, decision.Reason)
		return nil, false
	}
	return pod, true
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for logs websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	podID := req.URL.Query().Get("pod_id")
	service := req.URL.Query().Get("service")
	if podID == "" || service == "" {
		writeError(w, http.StatusBadRequest, "pod_id and service query parameters required")
		return
	}
	pod, err := r.pods.GetPodByID(req.Context(), podID)
	if err != nil {
		r.notFound(w)
		return
	}
	decision, err := r.checker.CheckPodAccess(req.Context(), info.UserID, pod.Slug)
	if err != nil || !decision.HasAccess {
		writeError(w, http.StatusForbidden, "You don't have access to this pod")
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(podID, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := r.orch.StreamServiceLogs(ctx, podID, service, 0); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("log stream ended", "pod_id", podID, "service", service, "error", err)
		}
	}()
	go func() {
		defer func() {
			cancel()
			r.hub.Unregister(podID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"host", hostOnly(req.Host),
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.UserID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func hostOnly(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
