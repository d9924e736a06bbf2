// Package services contains the business logic of the backend: account and
// token lifecycle, chat orchestration, and the inference engine client.
//
// Services are designed to be:
//   - Testable: dependencies are injected via constructors
//   - Composable: services can call other services
//   - Traceable: all methods accept context for cancellation and tracing
package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"coreapi/datatypes"
)

var inferenceTracer = otel.Tracer("coreapi.services.inference")

const (
	// maxReadyRetries is the number of additional health-check attempts
	// after the first failure.
	maxReadyRetries = 3

	// initialReadyDelay is the delay before the first retry. Doubles per
	// attempt up to maxReadyDelay.
	initialReadyDelay = 2 * time.Second
	maxReadyDelay     = 10 * time.Second

	// maxChunkLineBytes bounds a single NDJSON line from the engine.
	maxChunkLineBytes = 1 << 20
)

const (
	headerAPIKey    = "X-API-KEY"
	headerAPISecret = "X-API-SECRET"
)

// ChunkEmitter receives stream chunks in arrival order. Returning an error
// aborts the stream.
type ChunkEmitter func(chunk datatypes.ChatChunk) error

// KeyIssuer mints the one-time credentials attached to stream requests.
type KeyIssuer interface {
	Issue(ctx context.Context) (key, secret string, err error)
}

// InferenceClient talks to the inference engine over HTTP. The engine
// exposes:
//
//	HEAD /chats           readiness probe
//	POST /chats           NDJSON chunk stream for a question
//	POST /summarize       rolling summary generation
//	POST /generate-title  chat title generation
type InferenceClient struct {
	baseURL    string
	httpClient *http.Client
	keys       KeyIssuer
	logger     *slog.Logger

	// Retry pacing, overridable in tests.
	readyDelay    time.Duration
	readyDelayCap time.Duration
}

// NewInferenceClient creates a client for the engine at baseURL. The
// http.Client should carry no global timeout; per-call deadlines come from
// the context so streams are not cut off mid-answer.
func NewInferenceClient(baseURL string, httpClient *http.Client, keys KeyIssuer, logger *slog.Logger) *InferenceClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &InferenceClient{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    httpClient,
		keys:          keys,
		logger:        logger,
		readyDelay:    initialReadyDelay,
		readyDelayCap: maxReadyDelay,
	}
}

// Ready probes the engine's health endpoint, retrying transient failures
// with exponential backoff. A non-nil return means the engine should be
// treated as down and no stream attempted.
func (c *InferenceClient) Ready(ctx context.Context) error {
	ctx, span := inferenceTracer.Start(ctx, "InferenceClient.Ready")
	defer span.End()

	var lastErr error
	retryDelay := c.readyDelay

	for attempt := 0; attempt <= maxReadyRetries; attempt++ {
		if attempt > 0 {
			c.logger.Info("retrying inference health check",
				"attempt", attempt,
				"delay", retryDelay,
				"lastError", lastErr,
			)
			select {
			case <-ctx.Done():
				span.RecordError(ctx.Err())
				span.SetStatus(codes.Error, "context canceled during retry")
				return fmt.Errorf("%w: %v", ErrInferenceUnavailable, ctx.Err())
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			if retryDelay > c.readyDelayCap {
				retryDelay = c.readyDelayCap
			}
		}

		err := c.probe(ctx)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return nil
		}
		lastErr = err
		if !isRetryableProbeError(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "engine unavailable")
	return fmt.Errorf("%w: %v", ErrInferenceUnavailable, lastErr)
}

func (c *InferenceClient) probe(ctx context.Context) error {
	// Every probe authenticates with a fresh one-time pair; the engine
	// consumes it on verification, so pairs cannot be shared across
	// attempts.
	key, secret, err := c.keys.Issue(ctx)
	if err != nil {
		return fmt.Errorf("issue handshake pair: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/chats", nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	req.Header.Set(headerAPIKey, key)
	req.Header.Set(headerAPISecret, secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &probeError{cause: err, retryable: true}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &probeError{
		cause:     fmt.Errorf("health check returned %d", resp.StatusCode),
		retryable: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
	}
}

type probeError struct {
	cause     error
	retryable bool
}

func (e *probeError) Error() string { return e.cause.Error() }
func (e *probeError) Unwrap() error { return e.cause }

func isRetryableProbeError(err error) bool {
	var pe *probeError
	if errors.As(err, &pe) {
		return pe.retryable
	}
	return false
}

// Stream sends the question to the engine and forwards each NDJSON chunk to
// emit in arrival order. It returns once the engine sends its terminal done
// chunk, the stream ends, or emit fails. The done chunk itself is NOT
// forwarded; the caller owns stream termination.
func (c *InferenceClient) Stream(ctx context.Context, req *datatypes.InferenceRequest, emit ChunkEmitter) error {
	ctx, span := inferenceTracer.Start(ctx, "InferenceClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("category", req.Category))

	key, secret, err := c.keys.Issue(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("stream handshake: %w", err)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal inference request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chats", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	httpReq.Header.Set(headerAPIKey, key)
	httpReq.Header.Set(headerAPISecret, secret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		span.SetStatus(codes.Error, "unexpected stream status")
		return fmt.Errorf("%w: stream returned %d: %s", ErrInferenceUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxChunkLineBytes)

	chunks := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk datatypes.ChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			c.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}

		if chunk.Type == datatypes.ChunkTypeDone {
			span.SetAttributes(attribute.Int("chunks", chunks))
			return nil
		}

		chunks++
		if err := emit(chunk); err != nil {
			span.RecordError(err)
			return fmt.Errorf("emit chunk: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("read stream: %w", err)
	}

	// Stream ended without a done chunk. Treat as complete; the engine
	// closing cleanly carries the same meaning.
	span.SetAttributes(attribute.Int("chunks", chunks))
	return nil
}

// Summarize asks the engine to fold the latest exchange into the rolling
// summary.
func (c *InferenceClient) Summarize(ctx context.Context, req *datatypes.SummarizeRequest) (string, error) {
	ctx, span := inferenceTracer.Start(ctx, "InferenceClient.Summarize")
	defer span.End()

	var out datatypes.SummarizeResponse
	if err := c.postJSON(ctx, "/summarize", req, &out); err != nil {
		span.RecordError(err)
		return "", err
	}
	return out.Summary, nil
}

// GenerateTitle asks the engine for a short title based on the first
// exchange of a chat.
func (c *InferenceClient) GenerateTitle(ctx context.Context, req *datatypes.TitleRequest) (string, error) {
	ctx, span := inferenceTracer.Start(ctx, "InferenceClient.GenerateTitle")
	defer span.End()

	var out datatypes.TitleResponse
	if err := c.postJSON(ctx, "/generate-title", req, &out); err != nil {
		span.RecordError(err)
		return "", err
	}
	return out.Title, nil
}

func (c *InferenceClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInferenceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
