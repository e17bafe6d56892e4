package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/monsterxx03/binspy/pkg/binary"
)

// Server exposes the loader as MCP tools over stdio. Loaded binaries are
// cached per path until the client evicts them with the unload tool.
type Server struct {
	mcp      *server.MCPServer
	mu       sync.RWMutex
	binaries map[string]*binary.Binary
}

func NewServer(version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{binaries: make(map[string]*binary.Binary)}
	m := server.NewMCPServer("binspy", version)

	pathArg := mcp.WithString("path", mcp.Required(), mcp.Description("path of the executable to load"))
	formatArg := mcp.WithString("format", mcp.Description("format hint: auto, elf or pe"))

	m.AddTool(mcp.NewTool("binary_info",
		mcp.WithDescription("Load an executable and report its format, architecture, entry point and table sizes"),
		pathArg, formatArg,
	), s.handleBinaryInfo)
	m.AddTool(mcp.NewTool("list_sections",
		mcp.WithDescription("List the loadable code and data sections of an executable"),
		pathArg, formatArg,
	), s.handleListSections)
	m.AddTool(mcp.NewTool("list_symbols",
		mcp.WithDescription("List the function symbols of an executable, static table entries first"),
		pathArg, formatArg,
	), s.handleListSymbols)
	m.AddTool(mcp.NewTool("section_data",
		mcp.WithDescription("Hex dump a slice of one section's contents"),
		pathArg, formatArg,
		mcp.WithString("section", mcp.Required(), mcp.Description("section name, e.g. .text")),
		mcp.WithNumber("offset", mcp.Description("byte offset inside the section, default 0")),
		mcp.WithNumber("length", mcp.Description("bytes to dump, default 256")),
	), s.handleSectionData)
	m.AddTool(mcp.NewTool("unload",
		mcp.WithDescription("Release the cached section buffers of a previously loaded executable"),
		pathArg,
	), s.handleUnload)

	s.mcp = m
	return s
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) getBinary(path, format string) (*binary.Binary, error) {
	s.mu.RLock()
	if b, ok := s.binaries[path]; ok {
		s.mu.RUnlock()
		return b, nil
	}
	s.mu.RUnlock()

	f, err := binary.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	b, err := binary.LoadBinary(path, f)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	s.mu.Lock()
	s.binaries[path] = b
	s.mu.Unlock()
	return b, nil
}

func (s *Server) evict(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.binaries[path]
	if ok {
		b.Unload()
		delete(s.binaries, path)
	}
	return ok
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) target(req mcp.CallToolRequest) (*binary.Binary, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return nil, err
	}
	return s.getBinary(path, req.GetString("format", "auto"))
}

func (s *Server) handleBinaryInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bin, err := s.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]interface{}{
		"path":     bin.Path,
		"type":     bin.Type.String(),
		"type_str": bin.TypeStr,
		"arch":     bin.Arch.String(),
		"arch_str": bin.ArchStr,
		"bits":     bin.Bits,
		"entry":    fmt.Sprintf("0x%x", bin.Entry),
		"sections": len(bin.Sections),
		"symbols":  len(bin.Symbols),
	})
}

func (s *Server) handleListSections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bin, err := s.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sections := make([]map[string]interface{}, 0, len(bin.Sections))
	for _, sec := range bin.Sections {
		sections = append(sections, map[string]interface{}{
			"name":   sec.Name,
			"type":   sec.Type.String(),
			"vma":    fmt.Sprintf("0x%x", sec.VMA),
			"size":   sec.Size,
			"loaded": sec.Loaded(),
		})
	}
	return jsonResult(sections)
}

func (s *Server) handleListSymbols(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bin, err := s.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	symbols := make([]map[string]interface{}, 0, len(bin.Symbols))
	for _, sym := range bin.Symbols {
		symbols = append(symbols, map[string]interface{}{
			"name": sym.Name,
			"type": sym.Type.String(),
			"addr": fmt.Sprintf("0x%x", sym.Addr),
		})
	}
	return jsonResult(symbols)
}

func (s *Server) handleSectionData(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bin, err := s.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := req.RequireString("section")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sec := bin.Section(name)
	if sec == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no section %q in %s", name, bin.Path)), nil
	}
	if !sec.Loaded() {
		return mcp.NewToolResultError(fmt.Sprintf("section %q has been unloaded", name)), nil
	}
	offset := req.GetInt("offset", 0)
	length := req.GetInt("length", 256)
	if offset < 0 || uint64(offset) >= sec.Size {
		return mcp.NewToolResultError(fmt.Sprintf("offset %d outside section of size %d", offset, sec.Size)), nil
	}
	end := uint64(offset + length)
	if length <= 0 || end > sec.Size {
		end = sec.Size
	}
	return mcp.NewToolResultText(hex.Dump(sec.Data[offset:end])), nil
}

func (s *Server) handleUnload(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !s.evict(path) {
		return mcp.NewToolResultText(fmt.Sprintf("%s was not loaded", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("unloaded %s", path)), nil
}
