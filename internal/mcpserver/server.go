// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes chartd operator tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ellingard/chartd/internal/apperr"
	"github.com/ellingard/chartd/internal/parser"
	"github.com/ellingard/chartd/internal/syncservice"
)

// Server wraps the MCP server with chartd tools.
type Server struct {
	mcp *server.MCPServer
	svc *syncservice.Service
}

// New creates a new MCP server with all chartd tools registered.
func New(svc *syncservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"chartd",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("sync_status",
		mcp.WithDescription("Report a user's sync state, last successful sync time, and consecutive failure count."),
		mcp.WithString("user", mcp.Required(), mcp.Description("User id")),
	), s.syncStatus)

	s.mcp.AddTool(mcp.NewTool("trigger_sync",
		mcp.WithDescription("Run a reconciliation pass. Pass a user id for a single user, or omit it to sync everyone."),
		mcp.WithString("user", mcp.Description("Optional user id (empty syncs all users)")),
	), s.triggerSync)

	s.mcp.AddTool(mcp.NewTool("list_content",
		mcp.WithDescription("List a user's organized view: song titles mapped to their file links."),
		mcp.WithString("user", mcp.Required(), mcp.Description("User id")),
	), s.listContent)

	s.mcp.AddTool(mcp.NewTool("preview_parse",
		mcp.WithDescription("Dry-run the file name parser: shows the song title, key token, "+
			"category, and confidence a raw name would produce, without touching any state."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Raw file name (e.g. \"All Of Me - Bb.pdf\")")),
	), s.previewParse)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) syncStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Status(ctx, user)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown user: %s", user)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(detail, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) triggerSync(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user := ""
	if u, err := req.RequireString("user"); err == nil {
		user = u
	}

	if user == "" {
		runs, err := s.svc.TriggerSyncAll(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out, _ := json.MarshalIndent(runs, "", "  ")
		return mcp.NewToolResultText(string(out)), nil
	}

	run, err := s.svc.TriggerSync(ctx, user)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown user: %s", user)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(run, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listContent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	songs, err := s.svc.Content(ctx, user)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown user: %s", user)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(songs) == 0 {
		return mcp.NewToolResultText("no organized content"), nil
	}
	out, _ := json.MarshalIndent(songs, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) previewParse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := parser.Parse(name)
	out, _ := json.MarshalIndent(map[string]string{
		"song_title": res.SongTitle,
		"key_token":  res.KeyToken,
		"category":   string(res.Category),
		"subtype":    string(res.Subtype),
		"confidence": string(res.Confidence),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}
