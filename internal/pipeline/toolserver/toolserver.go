// Package toolserver implements the in-process MCP tool endpoint that
// the assembler sub-agent's tool-mode call dials (spec.md §4.3 bullet
// 4 / §4.6 s12). generator.buildMCPConfig points the claude CLI
// subprocess at a bare URL plus an X-API-Key header; this package is
// what answers on the other end of that URL, so s12's tool-mode branch
// has something real to call instead of a server that was never
// implemented. The one tool it exposes executes against the same
// Publisher client s12's direct-publish fallback uses, so both paths
// ultimately create the same kind of page through the same retry
// logic — the tool-mode branch differs only in letting the assembler
// sub-agent choose title/body phrasing before the call. Grounded on
// internal/api's Gin conventions for the transport and on
// generator.buildMCPConfig/ParseAssemblerOutput for the wire shape the
// other end of the wire expects.
package toolserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/TenSpy-ai/starbridge/internal/publisher"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Server answers MCP tools/list and tools/call requests for exactly
// one tool: publish the assembled report and hand back its URL.
type Server struct {
	publisher *publisher.Client
	apiKey    string
	toolName  string
	parentID  string

	httpServer *http.Server
}

// New builds a tool server backed by pub. apiKey must match the
// X-API-Key header value generator.buildMCPConfig writes into the
// CLI's MCP config (empty disables the check, for tests); toolName
// must match the allow-listed alias passed to GenerateWithTools.
func New(pub *publisher.Client, apiKey, toolName, parentPageID string) *Server {
	return &Server{publisher: pub, apiKey: apiKey, toolName: toolName, parentID: parentPageID}
}

// Start binds an ephemeral localhost port, serves in the background,
// and returns the URL to pass to generator.GenerateWithTools as
// mcpServerURL. Stop shuts it back down.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.POST("/mcp", s.handleRPC)
	s.httpServer = &http.Server{Handler: r}

	go func() { _ = s.httpServer.Serve(ln) }()
	return "http://" + ln.Addr().String() + "/mcp", nil
}

// Stop shuts the listener down. Safe on a Server whose Start was never
// called.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRPC(c *gin.Context) {
	if s.apiKey != "" && c.GetHeader("X-API-Key") != s.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	var req rpcRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	switch req.Method {
	case "initialize":
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: gin.H{
			"protocolVersion": "2024-11-05",
			"capabilities":    gin.H{"tools": gin.H{}},
			"serverInfo":      gin.H{"name": "starbridge-publish", "version": "1"},
		}})
	case "tools/list":
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: gin.H{
			"tools": []gin.H{{
				"name":        s.toolName,
				"description": "Publish the assembled intelligence report as a workspace page and return its URL.",
				"inputSchema": gin.H{
					"type": "object",
					"properties": gin.H{
						"title":   gin.H{"type": "string"},
						"content": gin.H{"type": "string"},
					},
					"required": []string{"title", "content"},
				},
			}},
		}})
	case "tools/call":
		s.handleToolCall(c, req)
	default:
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "method not found: " + req.Method}})
	}
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"arguments"`
}

func (s *Server) handleToolCall(c *gin.Context, req rpcRequest) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params"}})
		return
	}
	if params.Name != s.toolName {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "unknown tool: " + params.Name}})
		return
	}

	page, err := s.publisher.CreatePage(c.Request.Context(), params.Arguments.Title, params.Arguments.Content, s.parentID)
	if err != nil {
		c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: gin.H{
			"isError": true,
			"content": []gin.H{{"type": "text", "text": "publish failed: " + err.Error()}},
		}})
		return
	}

	c.JSON(http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: gin.H{
		"content": []gin.H{{"type": "text", "text": page.URL}},
	}})
}
