// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes docintake tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/intake"
	"github.com/starford/docintake/internal/naming"
)

// Server wraps the MCP server with docintake tools.
type Server struct {
	mcp *server.MCPServer
	svc *intake.Service
	// caller is the identity names are composed for.
	caller auth.Identity
}

// New creates a new MCP server with all docintake tools registered.
func New(svc *intake.Service, caller auth.Identity) *Server {
	s := &Server{svc: svc, caller: caller}

	s.mcp = server.NewMCPServer(
		"docintake",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Search indexed documents by type code family, date period and identifier. "+
			"Results are ordered newest document date first, 50 per page."),
		mcp.WithString("type", mcp.Description("Type code; 1.7 also matches 1.7.x codes")),
		mcp.WithString("date", mcp.Description("YYYY, YYYY-MM or YYYY-MM-DD")),
		mcp.WithString("asset", mcp.Description("Asset code")),
		mcp.WithString("spv", mcp.Description("SPV")),
		mcp.WithString("fund", mcp.Description("Fund")),
		mcp.WithString("tenant", mcp.Description("Tenant number")),
		mcp.WithNumber("page", mcp.Description("1-based page")),
	), s.searchDocuments)

	s.mcp.AddTool(mcp.NewTool("compose_filename",
		mcp.WithDescription("Validate upload metadata against the type rules and return the canonical "+
			"storage name and bucket. Nothing is stored. Read the contract first via "+
			"the get_filename_contract tool or the "+FilenameFormatURI+" resource."),
		mcp.WithString("type", mcp.Description("Type code such as 1.2, or other")),
		mcp.WithString("type_source", mcp.Description("selected (default) or filename"), mcp.Enum("selected", "filename")),
		mcp.WithString("confirm_type", mcp.Description("Echo of the code read from the filename when type_source is filename")),
		mcp.WithString("type_name", mcp.Description("Display name; defaults to the registered name")),
		mcp.WithString("date", mcp.Description("YYYY-MM or YYYY-MM-DD")),
		mcp.WithString("scope", mcp.Description("asset, spv or fund"), mcp.Enum("asset", "spv", "fund")),
		mcp.WithString("asset", mcp.Description("Asset code")),
		mcp.WithString("spv", mcp.Description("SPV")),
		mcp.WithString("fund", mcp.Description("Fund")),
		mcp.WithString("tenant", mcp.Description("Tenant number for tenant families")),
		mcp.WithString("suffix", mcp.Description("Free text suffix (concat scheme only)")),
		mcp.WithString("original_filename", mcp.Required(), mcp.Description("Name of the file as uploaded")),
		mcp.WithString("ext", mcp.Description("Extension override")),
	), s.composeFilename)

	s.mcp.AddTool(mcp.NewTool("decode_filename",
		mcp.WithDescription("Decode a canonical storage name back into its metadata."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Object key or storage path")),
	), s.decodeFilename)

	s.mcp.AddTool(mcp.NewTool("list_types",
		mcp.WithDescription("List the registered document types and their rules."),
	), s.listTypes)

	s.mcp.AddTool(mcp.NewTool("list_identifiers",
		mcp.WithDescription("List the registered identifiers of one scope."),
		mcp.WithString("scope", mcp.Required(), mcp.Description("asset, spv or fund"), mcp.Enum("asset", "spv", "fund")),
	), s.listIdentifiers)

	s.mcp.AddTool(mcp.NewTool("get_filename_contract",
		mcp.WithDescription("Returns the canonical docintake filename contract. "+
			"Call this before composing or interpreting storage names."),
	), s.getFilenameContract)

	// Resource: filename format contract.
	s.mcp.AddResource(
		mcp.NewResource(FilenameFormatURI, "Filename Format Contract",
			mcp.WithResourceDescription("Canonical storage name format of every stored document."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFilenameFormatResource,
	)

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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// toolError reports err to the model. Business errors keep their code and
// field so the model can correct the call.
func toolError(err error) *mcp.CallToolResult {
	if ae, ok := apperr.As(err); ok {
		msg := fmt.Sprintf("%s: %s", ae.Code, ae.Message)
		if ae.Field != "" {
			msg = fmt.Sprintf("%s (%s): %s", ae.Code, ae.Field, ae.Message)
		}
		for k, v := range ae.Details {
			msg += fmt.Sprintf("\n%s: %s", k, v)
		}
		return mcp.NewToolResultError(msg)
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) searchDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	page, err := s.svc.SearchDocuments(ctx, intake.SearchQuery{
		Type:   req.GetString("type", ""),
		Date:   req.GetString("date", ""),
		Asset:  req.GetString("asset", ""),
		SPV:    req.GetString("spv", ""),
		Fund:   req.GetString("fund", ""),
		Tenant: req.GetString("tenant", ""),
		Page:   req.GetInt("page", 0),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(page)
}

func (s *Server) composeFilename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	original, err := req.RequireString("original_filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	plan, err := s.svc.Preview(ctx, s.caller, naming.Request{
		Type:             req.GetString("type", ""),
		TypeSource:       naming.TypeSource(req.GetString("type_source", "")),
		ConfirmType:      req.GetString("confirm_type", ""),
		TypeName:         req.GetString("type_name", ""),
		Date:             req.GetString("date", ""),
		Scope:            req.GetString("scope", ""),
		Asset:            req.GetString("asset", ""),
		SPV:              req.GetString("spv", ""),
		Fund:             req.GetString("fund", ""),
		Tenant:           req.GetString("tenant", ""),
		Suffix:           req.GetString("suffix", ""),
		OriginalFilename: original,
		Ext:              req.GetString("ext", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(plan)
}

func (s *Server) decodeFilename(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := naming.Decode(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(out)
}

func (s *Server) listTypes(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	types, err := s.svc.TypeOptions(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(types)
}

func (s *Server) listIdentifiers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scope, err := req.RequireString("scope")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ids, err := s.svc.IdentifierOptions(ctx, scope)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(ids)
}

func (s *Server) getFilenameContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(FilenameContract(s.svc.Engine().Config())), nil
}

func (s *Server) readFilenameFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      FilenameFormatURI,
			MIMEType: "text/markdown",
			Text:     FilenameContract(s.svc.Engine().Config()),
		},
	}, nil
}
