package deploy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"
)

// Request is the unit of work handed to a deployment backend.
type Request struct {
	DeploymentID string `json:"deployment_id"`
	ProjectID    string `json:"project_id"`
	Environment  string `json:"environment"`
	// Archive is the zipped workspace, base64-encoded on the wire.
	Archive []byte `json:"archive"`
}

// Backend accepts deployment work. Progress comes back asynchronously
// through the callback endpoint; Submit only acknowledges intake.
type Backend interface {
	Submit(ctx context.Context, req Request) error
}

// HTTPBackend posts archives to an external deployment service.
type HTTPBackend struct {
	client  *http.Client
	url     string
	token   string
	retries uint64
	logger  *slog.Logger
}

// NewHTTPBackend builds a backend client for the given base URL.
func NewHTTPBackend(url, token string, timeout time.Duration, retries int, logger *slog.Logger) *HTTPBackend {
	if retries < 0 {
		retries = 0
	}
	return &HTTPBackend{
		client:  &http.Client{Timeout: timeout},
		url:     url,
		token:   token,
		retries: uint64(retries),
		logger:  logger.With("component", "deploy_backend"),
	}
}

// Submit posts the request, retrying transient failures with
// exponential backoff. 4xx responses are permanent.
func (b *HTTPBackend) Submit(ctx context.Context, req Request) error {
	body := map[string]string{
		"deployment_id": req.DeploymentID,
		"project_id":    req.ProjectID,
		"environment":   req.Environment,
		"archive":       base64.StdEncoding.EncodeToString(req.Archive),
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}

	backoff := retry.WithMaxRetries(b.retries, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/deploy", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if b.token != "" {
			httpReq.Header.Set("X-Backend-Token", b.token)
		}
		resp, err := b.client.Do(httpReq)
		if err != nil {
			b.logger.Warn("backend request failed", "deployment_id", req.DeploymentID, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode < 400:
			return nil
		case resp.StatusCode >= 500:
			b.logger.Warn("backend returned server error", "deployment_id", req.DeploymentID, "status", resp.Status)
			return retry.RetryableError(fmt.Errorf("backend status %s", resp.Status))
		default:
			return fmt.Errorf("backend rejected deployment: %s", resp.Status)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// SimulatedBackend drives a deployment through building, deploying and
// success without any external service. Used when no backend URL is
// configured, so the full lifecycle stays observable in development.
type SimulatedBackend struct {
	report    func(ctx context.Context, payload CallbackPayload) error
	stepDelay time.Duration
	logger    *slog.Logger
}

// NewSimulatedBackend wires a simulator to the given progress sink.
func NewSimulatedBackend(report func(ctx context.Context, payload CallbackPayload) error, stepDelay time.Duration, logger *slog.Logger) *SimulatedBackend {
	if stepDelay <= 0 {
		stepDelay = time.Second
	}
	return &SimulatedBackend{report: report, stepDelay: stepDelay, logger: logger.With("component", "deploy_simulator")}
}

// Submit walks the synthetic pipeline, reporting progress through the
// same callback path a real backend would use.
func (b *SimulatedBackend) Submit(ctx context.Context, req Request) error {
	steps := []CallbackPayload{
		{DeploymentID: req.DeploymentID, Status: StatusBuilding, LogLine: "build started"},
		{DeploymentID: req.DeploymentID, Status: StatusBuilding, LogLine: fmt.Sprintf("archived workspace: %d bytes", len(req.Archive))},
		{DeploymentID: req.DeploymentID, Status: StatusDeploying, LogLine: "uploading build output"},
		{
			DeploymentID: req.DeploymentID,
			Status:       StatusSuccess,
			URL:          simulatedURL(req.ProjectID, req.Environment),
			LogLine:      "deployment live",
		},
	}
	for _, step := range steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.stepDelay):
		}
		if err := b.report(ctx, step); err != nil {
			b.logger.Warn("simulated step rejected", "deployment_id", req.DeploymentID, "status", step.Status, "error", err)
			return err
		}
	}
	return nil
}

func simulatedURL(projectID, environment string) string {
	short := projectID
	if len(short) > 8 {
		short = short[:8]
	}
	if environment != "" && environment != "production" {
		return fmt.Sprintf("https://%s-%s.oreus.app", short, environment)
	}
	return fmt.Sprintf("https://%s.oreus.app", short)
}
