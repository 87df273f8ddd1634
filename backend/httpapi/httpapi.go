// Package httpapi executes API steps over HTTP. A step's action carries the
// request (method, url or path, headers, body) and its assertions
// (expect_status, expect_jq, expect_contains).
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hairizuan-noorazman/testflow/backend"
	"github.com/hairizuan-noorazman/testflow/logger"
)

const defaultMaxBodyBytes = 1 << 20

// Config configures the API executor.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
	Headers      map[string]string
}

// Executor runs API steps.
type Executor struct {
	cfg        Config
	httpClient *http.Client
	logger     logger.Logger
}

// NewExecutor creates an API executor. A nil client uses one with cfg.Timeout.
func NewExecutor(cfg Config, client *http.Client, log logger.Logger) *Executor {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Executor{
		cfg:        cfg,
		httpClient: client,
		logger:     log,
	}
}

// Execute sends the step's request and checks the response.
func (e *Executor) Execute(ctx context.Context, inv backend.Invocation) (backend.Outcome, error) {
	if inv.Step == nil {
		return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "invocation has no step")
	}
	action := inv.Step.Action

	target := e.resolveURL(action.String("url"), action.String("path"))
	if target == "" {
		return backend.Outcome{}, backend.Failuref(backend.FailureInfrastructure, "step %d has no request url", inv.Step.Index)
	}
	method := strings.ToUpper(action.String("method"))
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := requestBody(action["body"])
	if err != nil {
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "invalid request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "failed to build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range action.Map("headers") {
		if s, ok := v.(string); ok {
			req.Header.Set(k, s)
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return backend.Outcome{}, backend.WrapFailure(backend.FailureTimeout, "request timed out", err)
		}
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		return backend.Outcome{}, backend.WrapFailure(backend.FailureInfrastructure, "failed to read response", err)
	}

	e.logger.Debug(ctx, "api step executed", map[string]interface{}{
		"method":  method,
		"url":     target,
		"status":  resp.StatusCode,
		"step":    inv.Step.Index,
		"attempt": inv.Attempt,
	})

	if err := e.check(inv, resp.StatusCode, payload); err != nil {
		var f *backend.Failure
		if errors.As(err, &f) {
			f.Artifact = payload
			f.ArtifactType = resp.Header.Get("Content-Type")
		}
		return backend.Outcome{}, err
	}

	return backend.Outcome{
		Detail:       fmt.Sprintf("%s %s -> %d", method, target, resp.StatusCode),
		Artifact:     payload,
		ArtifactType: resp.Header.Get("Content-Type"),
	}, nil
}

func (e *Executor) check(inv backend.Invocation, status int, payload []byte) error {
	action := inv.Step.Action

	if want, ok := action.Int("expect_status"); ok {
		if status != want {
			return backend.Failuref(backend.FailureAssertion, "expected status %d, got %d", want, status)
		}
	} else if status >= http.StatusBadRequest {
		return backend.Failuref(backend.FailureAssertion, "unexpected status %d", status)
	}

	if want := action.String("expect_contains"); want != "" && !bytes.Contains(payload, []byte(want)) {
		return backend.Failuref(backend.FailureAssertion, "response does not contain %q", want)
	}

	if expr := action.String("expect_jq"); expr != "" {
		var doc interface{}
		if err := json.Unmarshal(payload, &doc); err != nil {
			return backend.WrapFailure(backend.FailureAssertion, "response is not JSON", err)
		}
		ok, err := backend.EvalJQ(expr, doc)
		if err != nil {
			return backend.WrapFailure(backend.FailureAssertion, "jq assertion failed", err)
		}
		if !ok {
			return backend.Failuref(backend.FailureAssertion, "jq assertion %q is false", expr)
		}
	}

	return backend.CheckFingerprint(inv.Step, payload)
}

func (e *Executor) resolveURL(rawURL, path string) string {
	if rawURL != "" {
		return rawURL
	}
	if path == "" || e.cfg.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(e.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func requestBody(v interface{}) (io.Reader, string, error) {
	switch b := v.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
