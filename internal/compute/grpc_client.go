package compute

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const defaultCallTimeout = 30 * time.Second

// Client calls a query agent over gRPC.
type Client struct {
	conn      grpc.ClientConnInterface
	closer    func() error
	authToken string
}

// Dial connects to the agent at endpoint. The endpoint is either
// grpc://host:port, grpcs://host:port (TLS) or a bare host:port.
func Dial(endpoint, authToken string) (*Client, error) {
	EnsureJSONCodec()

	target, secure, err := dialTarget(endpoint)
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if secure {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial query agent: %w", err)
	}
	return &Client{conn: conn, closer: conn.Close, authToken: authToken}, nil
}

// NewClient wraps an existing connection. The connection must use the JSON
// codec as its default content subtype.
func NewClient(conn grpc.ClientConnInterface, authToken string) *Client {
	return &Client{conn: conn, authToken: authToken}
}

// Close releases the connection when the client owns it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func dialTarget(endpoint string) (target string, secure bool, err error) {
	if !strings.Contains(endpoint, "://") {
		if strings.TrimSpace(endpoint) == "" {
			return "", false, fmt.Errorf("agent endpoint is required")
		}
		return endpoint, false, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "grpc", "grpcs":
		if u.Host == "" {
			return "", false, fmt.Errorf("grpc endpoint host is required")
		}
		return u.Host, scheme == "grpcs", nil
	default:
		return "", false, fmt.Errorf("agent endpoint must use grpc:// or grpcs://, got %q", u.Scheme)
	}
}

func (c *Client) outgoing(ctx context.Context, requestID string) (context.Context, context.CancelFunc) {
	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
	}
	pairs := []string{MetadataAgentToken, c.authToken}
	if requestID != "" {
		pairs = append(pairs, MetadataRequestID, requestID)
	}
	return metadata.NewOutgoingContext(ctx, metadata.Pairs(pairs...)), cancel
}

// ExecuteQuery fetches one page.
func (c *Client) ExecuteQuery(ctx context.Context, req *ExecuteQueryRequest) (*ExecuteQueryResponse, error) {
	ctx, cancel := c.outgoing(ctx, req.RequestID)
	defer cancel()

	out := new(ExecuteQueryResponse)
	if err := c.conn.Invoke(ctx, MethodExecuteQuery, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelQuery stops a paged query on the agent.
func (c *Client) CancelQuery(ctx context.Context, req *CancelQueryRequest) (*CancelQueryResponse, error) {
	ctx, cancel := c.outgoing(ctx, "")
	defer cancel()

	out := new(CancelQueryResponse)
	if err := c.conn.Invoke(ctx, MethodCancelQuery, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

// Health probes the agent.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := c.outgoing(ctx, "")
	defer cancel()

	out := new(HealthResponse)
	if err := c.conn.Invoke(ctx, MethodHealth, &HealthRequest{}, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
