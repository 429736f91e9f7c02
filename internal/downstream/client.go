// Package downstream delivers protocol messages from one node to another
// over HTTP.
//
// Each call is a single POST bounded by the timeout of its hop class.
// There are no retries; callers decide whether a TransportError is fatal.
package downstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/axel-blaze-11/pheonix/internal/message"
)

// ContentType is the media type of every hop.
const ContentType = "application/xml"

const maxResponseSize = 1 << 20 // 1MB

// Node names a participant of the network.
type Node string

// Nodes of the simulated network
const (
	NodePayerPSP Node = "payer_psp"
	NodePayeePSP Node = "payee_psp"
	NodeRemBank  Node = "rem_bank"
	NodeBeneBank Node = "bene_bank"
	NodeSwitch   Node = "switch"
)

// AllNodes lists every node in start order.
var AllNodes = []Node{NodeRemBank, NodeBeneBank, NodePayeePSP, NodeSwitch, NodePayerPSP}

// Hop is a timeout class.
type Hop int

const (
	// HopInitial is the payer-facing hop that the caller waits on.
	HopInitial Hop = iota
	// HopForward covers DEBIT/CREDIT forwarding and notifications.
	HopForward
)

func (h Hop) String() string {
	if h == HopInitial {
		return "initial"
	}
	return "forward"
}

// Timeouts bounds each hop class.
type Timeouts struct {
	Initial time.Duration
	Forward time.Duration
}

// DefaultTimeouts returns the stock hop timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{Initial: 30 * time.Second, Forward: 10 * time.Second}
}

func (t Timeouts) of(h Hop) time.Duration {
	if h == HopInitial {
		return t.Initial
	}
	return t.Forward
}

// Registry maps node names to base URLs.
type Registry map[Node]string

// ErrUnknownNode is returned for a node missing from the registry.
var ErrUnknownNode = errors.New("unknown node")

// TransportError is a failure to get any HTTP response from a node.
type TransportError struct {
	Node Node
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s unreachable at %s: %v", e.Node, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the hop timed out.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// Response is a node's synchronous HTTP answer.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Accepted reports a 2xx status.
func (r *Response) Accepted() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client posts messages to nodes.
type Client struct {
	nodes    Registry
	timeouts Timeouts
	client   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeouts overrides the hop timeouts.
func WithTimeouts(t Timeouts) ClientOption {
	return func(c *Client) { c.timeouts = t }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a client for the given registry.
func NewClient(nodes Registry, opts ...ClientOption) *Client {
	c := &Client{
		nodes:    make(Registry, len(nodes)),
		timeouts: DefaultTimeouts(),
		client:   &http.Client{},
	}
	for n, u := range nodes {
		c.nodes[n] = strings.TrimRight(u, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL resolves path on node.
func (c *Client) URL(node Node, path string) (string, error) {
	base, ok := c.nodes[node]
	if !ok || base == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownNode, node)
	}
	return base + "/" + strings.TrimLeft(path, "/"), nil
}

// Nodes returns the registered nodes sorted by name.
func (c *Client) Nodes() []NodeInfo {
	out := make([]NodeInfo, 0, len(c.nodes))
	for n, u := range c.nodes {
		out = append(out, NodeInfo{Name: n, BaseURL: u})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NodeInfo is a registry entry.
type NodeInfo struct {
	Name    Node   `json:"name"`
	BaseURL string `json:"base_url"`
}

// Send marshals msg and posts it to node.
func (c *Client) Send(ctx context.Context, hop Hop, node Node, path string, msg *message.Message) (*Response, error) {
	body, err := message.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return c.Post(ctx, hop, node, path, body)
}

// Post sends a raw XML body to node. Any HTTP status is a Response; only a
// failure to get one is a *TransportError.
func (c *Client) Post(ctx context.Context, hop Hop, node Node, path string, body []byte) (*Response, error) {
	url, err := c.URL(node, path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeouts.of(hop))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", ContentType)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Node: node, URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{Node: node, URL: url, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
