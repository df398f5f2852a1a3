// Package httpx wires the HTTP API to the services behind it.
package httpx

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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

	"github.com/timomeintjes-cmd/oreus-api/internal/service/ai"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/deploy"
	"github.com/timomeintjes-cmd/oreus-api/internal/service/project"
	"github.com/timomeintjes-cmd/oreus-api/internal/ws"
	"github.com/timomeintjes-cmd/oreus-api/pkg/config"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	project        project.Service
	deploy         deploy.Service
	ai             ai.Service
	hub            *ws.Hub
	upgrader       websocket.Upgrader
	limiter        RateLimiter
	backendToken   string
	dbHealth       func(context.Context) error
	devServerCount func() int
	cfg            config.Config

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	devServersRunning  prometheus.GaugeFunc
}

const (
	rateWindowDefault    = time.Minute
	rateWindowRealtime   = 30 * time.Second
	rateLimitWrite       = 60
	rateLimitRead        = 240
	rateLimitStream      = 30
	rateLimitCallback    = 600
	healthCheckTimeout   = 2 * time.Second
	sseHeartbeatInterval = 15 * time.Second
	apiVersion           = "1.0.0"
)

// Deps bundles the router's collaborators.
type Deps struct {
	Logger         *slog.Logger
	Project        project.Service
	Deploy         deploy.Service
	AI             ai.Service
	Hub            *ws.Hub
	Limiter        RateLimiter
	DBHealth       func(context.Context) error
	DevServerCount func() int
	Config         config.Config
}

// NewRouter assembles routes with dependencies.
func NewRouter(deps Deps) *Router {
	r := &Router{
		mux:     http.NewServeMux(),
		logger:  deps.Logger,
		project: deps.Project,
		deploy:  deps.Deploy,
		ai:      deps.AI,
		hub:     deps.Hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:        deps.Limiter,
		backendToken:   strings.TrimSpace(deps.Config.DeployBackendToken),
		dbHealth:       deps.DBHealth,
		devServerCount: deps.DevServerCount,
		cfg:            deps.Config,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to the underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/", r.audit("root", r.handleRoot))
	r.mux.HandleFunc("/healthz", r.audit("health", r.handleHealth))
	r.mux.HandleFunc("/v1/health", r.audit("health", r.handleHealth))
	r.mux.HandleFunc("/v1/config", r.audit("config", r.handleConfig))
	r.mux.HandleFunc("/v1/projects", r.audit("projects", r.withRateLimit("projects", rateLimitWrite, rateWindowDefault, r.handleProjects)))
	r.mux.HandleFunc("/v1/projects/", r.audit("project", r.withRateLimit("project", rateLimitWrite, rateWindowDefault, r.handleProjectSubroutes)))
	r.mux.HandleFunc("/v1/deployments/", r.audit("deployment", r.withRateLimit("deployment", rateLimitRead, rateWindowDefault, r.handleDeploymentSubroutes)))
	r.mux.HandleFunc("/v1/deploy/callback", r.audit("deploy_callback", r.withRateLimit("deploy_callback", rateLimitCallback, rateWindowDefault, r.handleDeployCallback)))
	r.mux.HandleFunc("/v1/ai/completion", r.audit("ai_completion", r.withRateLimit("ai_completion", rateLimitWrite, rateWindowDefault, r.handleAICompletion)))
	r.mux.HandleFunc("/v1/providers", r.audit("providers", r.handleProviders))
	r.mux.HandleFunc("/v1/logs/", r.audit("logs_sse", r.withRateLimit("logs_sse", rateLimitStream, rateWindowRealtime, r.handleLogsSSE)))
	r.mux.HandleFunc("/ws/logs", r.audit("logs_ws", r.withRateLimit("logs_ws", rateLimitStream, rateWindowRealtime, r.handleLogsWS)))
	r.mux.Handle("/metrics", promhttp.Handler())
}

func (r *Router) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		r.notFound(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Welcome to Oreus API",
		"environment": r.cfg.Environment,
		"status":      "running",
	})
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	services := map[string]string{}
	status := http.StatusOK
	overall := "healthy"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			services["database"] = "unavailable"
			overall = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			services["database"] = "ok"
		}
	} else {
		services["database"] = "not_configured"
	}
	for name, info := range r.ai.Providers(req.Context()) {
		if info.Available {
			services[name] = "configured"
		} else {
			services[name] = "not_configured"
		}
	}
	payload := map[string]any{
		"status":      overall,
		"environment": r.cfg.Environment,
		"version":     apiVersion,
		"services":    services,
	}
	if r.devServerCount != nil {
		payload["dev_servers_running"] = r.devServerCount()
	}
	writeJSON(w, status, payload)
}

func (r *Router) handleConfig(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"environment":          r.cfg.Environment,
		"workspace_root":       r.cfg.WorkspaceRoot,
		"dev_server_port_base": r.cfg.DevServerPortBase,
		"dev_server_ports":     r.cfg.DevServerPortCount,
		"database_configured":  r.cfg.DatabaseURL != "",
		"backend_configured":   r.cfg.DeployBackendURL != "",
	})
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Name        string `json:"name"`
			Template    string `json:"template"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if payload.Template == "" {
			payload.Template = "fastapi"
		}
		created, err := r.project.Create(req.Context(), project.CreateInput{
			Name:        payload.Name,
			Template:    payload.Template,
			Description: payload.Description,
		})
		if err != nil {
			r.writeProjectError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		items, err := r.project.List(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"projects": items})
	default:
		r.methodNotAllowed(w)
	}
}

// handleProjectSubroutes dispatches /v1/projects/{id}[/...] paths.
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/projects/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.SplitN(trimmed, "/", 2)
	projectID := parts[0]
	if projectID == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		r.handleProjectByID(w, req, projectID)
		return
	}

	rest := parts[1]
	switch {
	case rest == "files":
		r.handleProjectFiles(w, req, projectID)
	case strings.HasPrefix(rest, "files/"):
		r.handleProjectFile(w, req, projectID, strings.TrimPrefix(rest, "files/"))
	case rest == "directories":
		r.handleProjectMkdir(w, req, projectID)
	case rest == "export":
		r.handleProjectExport(w, req, projectID)
	case rest == "env":
		r.handleProjectEnv(w, req, projectID)
	case rest == "dev-server/start":
		r.handleDevServerStart(w, req, projectID)
	case rest == "dev-server/stop":
		r.handleDevServerStop(w, req, projectID)
	case rest == "dev-server" || rest == "dev-server/status":
		r.handleDevServerStatus(w, req, projectID)
	case rest == "deploy":
		r.handleProjectDeploy(w, req, projectID)
	case rest == "deployments":
		r.handleProjectDeployments(w, req, projectID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleProjectByID(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		item, err := r.project.Get(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := r.project.Delete(req.Context(), projectID); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "project_id": projectID})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectFiles(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		nodes, err := r.project.ListTree(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "files": nodes})
	case http.MethodPost:
		var payload struct {
			Path     string `json:"path"`
			Content  string `json:"content"`
			IsBinary bool   `json:"is_binary"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		content, err := decodeFileContent(payload.Content, payload.IsBinary)
		if err != nil {
			writeError(w, http.StatusBadRequest, "content is not valid base64")
			return
		}
		if err := r.project.WriteFile(req.Context(), projectID, payload.Path, content); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "written", "path": payload.Path})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectFile(w http.ResponseWriter, req *http.Request, projectID, path string) {
	switch req.Method {
	case http.MethodGet:
		content, err := r.project.ReadFile(req.Context(), projectID, path)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"path": path, "content": string(content)})
	case http.MethodPut, http.MethodPost:
		var payload struct {
			Content  string `json:"content"`
			IsBinary bool   `json:"is_binary"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		content, err := decodeFileContent(payload.Content, payload.IsBinary)
		if err != nil {
			writeError(w, http.StatusBadRequest, "content is not valid base64")
			return
		}
		if err := r.project.WriteFile(req.Context(), projectID, path, content); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "written", "path": path})
	case http.MethodDelete:
		if err := r.project.DeleteFile(req.Context(), projectID, path); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "path": path})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleProjectMkdir(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.project.Mkdir(req.Context(), projectID, payload.Path); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "path": payload.Path})
}

func (r *Router) handleProjectExport(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", projectID+".zip"))
	if err := r.project.ExportArchive(req.Context(), projectID, w); err != nil {
		// Headers may already be out; log rather than rewrite the response.
		r.logger.Error("archive export failed", "project_id", projectID, "error", err)
	}
}

func (r *Router) handleProjectEnv(w http.ResponseWriter, req *http.Request, projectID string) {
	switch req.Method {
	case http.MethodGet:
		vars, err := r.project.ListEnvVars(req.Context(), projectID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "env_vars": vars})
	case http.MethodPost:
		var payload struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		err := r.project.AddEnvVar(req.Context(), project.EnvVarInput{
			ProjectID: projectID,
			Key:       payload.Key,
			Value:     payload.Value,
		})
		if err != nil {
			r.writeProjectError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "stored", "key": payload.Key})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDevServerStart(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	status, err := r.project.StartDevServer(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleDevServerStop(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := r.project.StopDevServer(req.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "project_id": projectID})
}

func (r *Router) handleDevServerStatus(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status, err := r.project.DevServerStatus(req.Context(), projectID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleProjectDeploy(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Environment string `json:"environment"`
	}
	if req.Body != nil {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	deployment, err := r.deploy.Deploy(req.Context(), projectID, payload.Environment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, deployment)
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request, projectID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}
	records, err := r.deploy.ListByProject(req.Context(), projectID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "deployments": records})
}

// handleDeploymentSubroutes dispatches /v1/deployments/{id}[/events].
func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/v1/deployments/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.SplitN(trimmed, "/", 2)
	deploymentID := parts[0]
	if len(parts) == 2 && parts[1] == "events" {
		r.handleDeploymentEvents(w, req, deploymentID)
		return
	}
	if len(parts) > 1 {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	record, err := r.deploy.Get(req.Context(), deploymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleDeployCallback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.verifyBackendToken(w, req) {
		return
	}
	var payload deploy.CallbackPayload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.deploy.ProcessCallback(req.Context(), payload); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (r *Router) handleAICompletion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload ai.CompletionInput
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	completion, err := r.ai.Complete(req.Context(), payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}

func (r *Router) handleProviders(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": r.ai.Providers(req.Context())})
}

// handleLogsSSE streams dev-server log lines for /v1/logs/{projectID}.
func (r *Router) handleLogsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	projectID := strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, "/v1/logs/"), "/stream")
	if projectID == "" || strings.Contains(projectID, "/") {
		r.notFound(w)
		return
	}
	if _, err := r.project.Get(req.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	r.streamSSE(w, req, ws.DevServerTopic(projectID), func(client *ws.SSEClient) {
		// Replay the buffered tail before live lines.
		if status, err := r.project.DevServerStatus(req.Context(), projectID); err == nil {
			for _, line := range status.Logs {
				_ = client.Send([]byte(line))
			}
		}
	})
}

func (r *Router) handleDeploymentEvents(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if _, err := r.deploy.Get(req.Context(), deploymentID); err != nil {
		writeServiceError(w, err)
		return
	}
	r.streamSSE(w, req, ws.DeploymentTopic(deploymentID), nil)
}

func (r *Router) streamSSE(w http.ResponseWriter, req *http.Request, topic string, prime func(*ws.SSEClient)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	if prime != nil {
		prime(client)
	}
	r.hub.Subscribe(topic, client)
	defer func() {
		r.hub.Unsubscribe(topic, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

// handleLogsWS upgrades /ws/logs?project_id= to a websocket log stream.
func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id query parameter required")
		return
	}
	if _, err := r.project.Get(req.Context(), projectID); err != nil {
		writeServiceError(w, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	topic := ws.DevServerTopic(projectID)
	r.hub.Subscribe(topic, client)
	go func() {
		defer func() {
			r.hub.Unsubscribe(topic, client)
			client.Close()
		}()
		client.ReadUntilClose()
	}()
}

// writeProjectError narrows validation errors to 400 before falling
// back to the shared mapping.
func (r *Router) writeProjectError(w http.ResponseWriter, err error) {
	if errors.Is(err, project.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeServiceError(w, err)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
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

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, route, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
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

// verifyBackendToken ensures backend callbacks carry the shared secret.
func (r *Router) verifyBackendToken(w http.ResponseWriter, req *http.Request) bool {
	expected := r.backendToken
	if expected == "" {
		r.logger.Error("backend token not configured", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "backend authentication misconfigured")
		return false
	}
	token := strings.TrimSpace(req.Header.Get("X-Backend-Token"))
	if len(token) != len(expected) || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		r.logger.Warn("backend token mismatch", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "invalid backend token")
		return false
	}
	return true
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

// decodeFileContent interprets binary uploads as base64.
func decodeFileContent(content string, isBinary bool) ([]byte, error) {
	if !isBinary {
		return []byte(content), nil
	}
	return base64.StdEncoding.DecodeString(content)
}
