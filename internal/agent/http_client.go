package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// callRequest is the wire payload sent to the model gateway.
type callRequest struct {
	ModelID string `json:"model_id"`
	Prompt  string `json:"prompt"`
}

// callResponse is the wire payload read back from the model gateway.
type callResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// HTTPAgentClient calls a model gateway over HTTP, guarded by a circuit
// breaker and traced end to end. It is the default Client used outside
// of tests.
type HTTPAgentClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// NewHTTPAgentClient builds a client pointed at MODEL_GATEWAY_URL, falling
// back to a well-known in-cluster service name when the env var is unset.
func NewHTTPAgentClient() *HTTPAgentClient {
	baseURL := os.Getenv("MODEL_GATEWAY_URL")
	if baseURL == "" {
		baseURL = "http://model-gateway-service:8000"
		log.Printf("WARN: MODEL_GATEWAY_URL not set, defaulting to %s", baseURL)
	}

	settings := gobreaker.Settings{
		Name:        "model-gateway",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &HTTPAgentClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		tracer:  otel.Tracer("agent-http-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL overrides the gateway URL, for tests pointed at an httptest server.
func (c *HTTPAgentClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// Call sends prompt to modelID and returns the raw text reply. Each call
// carries its own deadline derived from ctx, is traced as a span, and is
// executed through the circuit breaker so a struggling gateway degrades
// fast instead of piling up in-flight requests.
func (c *HTTPAgentClient) Call(ctx context.Context, modelID, prompt string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "agent.call")
	defer span.End()

	span.SetAttributes(
		attribute.String("model_id", modelID),
		attribute.Int("prompt_length", len(prompt)),
	)

	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.callInternal(ctx, modelID, prompt)
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("agent call failed: %w", err)
	}

	text := result.(string)
	span.SetAttributes(attribute.Int("response_length", len(text)))
	return text, nil
}

func (c *HTTPAgentClient) callInternal(ctx context.Context, modelID, prompt string) (string, error) {
	body, err := json.Marshal(callRequest{ModelID: modelID, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/generate", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return "", fmt.Errorf("model gateway returned status %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return "", fmt.Errorf("model gateway returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var decoded callResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("model gateway reported error: %s", decoded.Error)
	}

	return decoded.Text, nil
}

// IsHealthy reports whether the gateway is reachable, checking breaker
// state first so an already-open breaker short-circuits the network call.
func (c *HTTPAgentClient) IsHealthy(ctx context.Context) bool {
	if c.breaker.State() == gobreaker.StateOpen {
		return false
	}
	url := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
