// Package client provides the HTTP client for the remote agent resource
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	rerrors "github.com/rizome-dev/roster/pkg/errors"
	"github.com/rizome-dev/roster/pkg/types"
)

const (
	// DefaultBaseURL is where the reference server listens by default
	DefaultBaseURL = "http://localhost:3001"

	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 << 20
	agentsPath      = "/agents"
)

// Client talks to the remote agent resource over REST
type Client struct {
	httpClient *http.Client
	baseURL    string
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	dnsTTL      time.Duration
	resolver    *dnscache.Resolver
	stopRefresh chan struct{}
	closeOnce   sync.Once
}

// Option defines a function for configuring the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithBaseURL sets the base URL for API requests
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout sets the overall request timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			httpClient := *c.httpClient
			httpClient.Timeout = timeout
			c.httpClient = &httpClient
		}
	}
}

// WithDNSCache resolves hosts through a cache refreshed every ttl
func WithDNSCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.dnsTTL = ttl
	}
}

// WithTracer sets the tracer used for request spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Client) {
		c.tracer = tracer
	}
}

// New creates a new client instance
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/rizome-dev/roster/pkg/client")
	}
	if c.dnsTTL > 0 {
		c.enableDNSCache()
	}

	return c
}

// BaseURL returns the base URL of the remote resource
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Close stops the DNS cache refresher, if any
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.stopRefresh != nil {
			close(c.stopRefresh)
		}
	})
}

func (c *Client) enableDNSCache() {
	c.resolver = &dnscache.Resolver{}
	c.stopRefresh = make(chan struct{})

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			return nil, err
		}
		ips, err := c.resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		if len(ips) == 0 {
			return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
	}

	httpClient := *c.httpClient
	httpClient.Transport = transport
	c.httpClient = &httpClient

	go func(ttl time.Duration) {
		ticker := time.NewTicker(ttl)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopRefresh:
				return
			case <-ticker.C:
				c.resolver.Refresh(true)
			}
		}
	}(c.dnsTTL)
}

// ListAgents fetches every agent
func (c *Client) ListAgents(ctx context.Context) ([]types.Agent, error) {
	var agents []types.Agent
	if err := c.do(ctx, "list", http.MethodGet, agentsPath, "", nil, &agents); err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []types.Agent{}
	}
	return agents, nil
}

// GetAgent fetches a single agent
func (c *Client) GetAgent(ctx context.Context, id string) (types.Agent, error) {
	var agent types.Agent
	err := c.do(ctx, "get", http.MethodGet, agentPath(id), id, nil, &agent)
	return agent, err
}

// CreateAgent posts a full agent record and returns the stored record
func (c *Client) CreateAgent(ctx context.Context, agent types.Agent) (types.Agent, error) {
	var created types.Agent
	err := c.do(ctx, "create", http.MethodPost, agentsPath, agent.ID, agent, &created)
	return created, err
}

// UpdateAgent replaces the agent with the same id
func (c *Client) UpdateAgent(ctx context.Context, agent types.Agent) (types.Agent, error) {
	var updated types.Agent
	err := c.do(ctx, "update", http.MethodPut, agentPath(agent.ID), agent.ID, agent, &updated)
	return updated, err
}

// DeleteAgent removes the agent with the given id
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, agentPath(id), id, nil, nil)
}

func agentPath(id string) string {
	return agentsPath + "/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, op, method, path, agentID string, body, out interface{}) error {
	target := c.baseURL + path

	ctx, span := c.tracer.Start(ctx, "roster.client."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", target),
		),
	)
	defer span.End()
	if agentID != "" {
		span.SetAttributes(attribute.String("agent.id", agentID))
	}

	err := c.roundTrip(ctx, op, method, target, body, out, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, target string, body, out interface{}, span trace.Span) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &rerrors.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &rerrors.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &rerrors.TransportError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &rerrors.APIError{Code: resp.StatusCode, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	return nil
}

func newAPIError(code int, body []byte) *rerrors.APIError {
	message := http.StatusText(code)

	var payload types.ErrorResponse
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		message = text
	}

	return &rerrors.APIError{Code: code, Message: message}
}
