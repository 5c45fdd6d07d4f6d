package detector

import (
	"context"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/example/ai-detect/internal/logging"
)

// toolName is the Winston detection tool exposed over MCP.
const toolName = "ai-image-detection"

// MCPClient calls the detector through the Winston MCP endpoint using the
// streamable HTTP transport and the tools/call convention.
type MCPClient struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	client *mcpclient.Client
	ready  bool
}

// NewMCPClient creates an MCP detector client. The session is established
// lazily on first use so a temporarily unreachable endpoint does not fail
// startup.
func NewMCPClient(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *MCPClient {
	return &MCPClient{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
		timeout:  timeout,
		logger:   logger.Named("detector_mcp"),
	}
}

// Detect invokes the detection tool with the public image URL. The tool
// result is reshaped into the same document layout the REST variant
// produces, so the normalizer never cares which transport answered.
func (c *MCPClient) Detect(ctx context.Context, imageURL string) (*Response, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := c.ensureSession(callCtx)
	if err != nil {
		wrapped := logging.NewTransportError("detector.mcp.connect", "", 0, err)
		c.logger.Error("mcp session setup failed",
			zap.String("endpoint", c.endpoint),
			zap.Error(wrapped))
		return nil, wrapped
	}

	callRequest := mcp.CallToolRequest{}
	callRequest.Params.Name = toolName
	callRequest.Params.Arguments = map[string]any{
		"url":    imageURL,
		"apiKey": c.apiKey,
	}

	result, err := client.CallTool(callCtx, callRequest)
	if err != nil {
		c.markBroken()
		wrapped := logging.NewTransportError("detector.mcp.call", "", 0, err)
		c.logger.Error("tool call failed",
			zap.String("endpoint", c.endpoint),
			zap.Error(wrapped))
		return nil, wrapped
	}

	return &Response{Payload: toolResultPayload(result)}, nil
}

// ensureSession initializes the MCP session once and reuses it across calls.
// A session that failed a call is torn down and rebuilt on the next one.
func (c *MCPClient) ensureSession(ctx context.Context) (*mcpclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return c.client, nil
	}
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}

	client, err := mcpclient.NewStreamableHttpClient(c.endpoint)
	if err != nil {
		return nil, err
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "ai-detect",
		Version: "1.0.0",
	}

	if _, err := client.Initialize(ctx, initRequest); err != nil {
		client.Close()
		return nil, err
	}

	c.client = client
	c.ready = true
	return client, nil
}

func (c *MCPClient) markBroken() {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
}

// Close tears down the MCP session.
func (c *MCPClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
	c.ready = false
}

// toolResultPayload reshapes an MCP tool result into the loose document
// contract shared with the REST variant: text segments under
// result.content, tool-level failures as an error object.
func toolResultPayload(result *mcp.CallToolResult) map[string]any {
	if result == nil {
		return nil
	}

	content := make([]any, 0, len(result.Content))
	var firstText string
	for _, item := range result.Content {
		textContent, ok := item.(mcp.TextContent)
		if !ok {
			continue
		}
		if firstText == "" {
			firstText = textContent.Text
		}
		content = append(content, map[string]any{
			"type": "text",
			"text": textContent.Text,
		})
	}

	payload := map[string]any{
		"result": map[string]any{"content": content},
	}
	if result.IsError {
		message := firstText
		if message == "" {
			message = "tool reported an error"
		}
		payload["error"] = map[string]any{"message": message}
	}
	return payload
}
