package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/async"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/index"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/session"
	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// Asker answers questions over the current collections.
type Asker interface {
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Answer, error)
	Files() []string
}

// Refresher rebuilds the index on demand and reports its progress.
type Refresher interface {
	Refresh(ctx context.Context) (*index.RefreshResult, error)
	Snapshot() async.Snapshot
}

// Dependencies are the Server's collaborators.
type Dependencies struct {
	Asker     Asker                 // required
	Refresher Refresher             // nil disables refresh_index
	Sessions  *session.Manager      // nil disables named conversations
	Metrics   *telemetry.AskMetrics // nil omits the ask_metrics resource
	Folder    string
	// HistoryTurns defaults to session.DefaultHistoryTurns.
	HistoryTurns int
}

// Server is the MCP server. It exposes the ask, refresh_index, list_files
// and index_status tools, one resource per queryable file, and status and
// metrics resources.
type Server struct {
	mcp          *mcp.Server
	asker        Asker
	refresher    Refresher
	sessions     *session.Manager
	metrics      *telemetry.AskMetrics
	folder       string
	historyTurns int
	logger       *slog.Logger

	mu        sync.RWMutex
	resources map[string]mcp.ResourceHandler
	files     map[string]string // filename → resource URI

	sessionMu sync.Mutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "ask",
		Description: "Answer a question from the indexed documents and recordings in the folder. Mention a filename to restrict the answer to that file. Pass a session name to keep a conversation going.",
	},
	{
		Name:        "refresh_index",
		Description: "Re-scan the folder and rebuild the index for files that were added or changed. Unchanged files are reused.",
	},
	{
		Name:        "list_files",
		Description: "List the files that can currently be asked about.",
	},
	{
		Name:        "index_status",
		Description: "Report whether a refresh is running and what the last refresh built, reused, or failed to index.",
	},
}

// NewServer creates the server and registers its tools and fixed resources.
// File resources are added by SyncResources.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Asker == nil {
		return nil, errors.New("asker is required")
	}
	turns := deps.HistoryTurns
	if turns <= 0 {
		turns = session.DefaultHistoryTurns
	}

	s := &Server{
		asker:        deps.Asker,
		refresher:    deps.Refresher,
		sessions:     deps.Sessions,
		metrics:      deps.Metrics,
		folder:       deps.Folder,
		historyTurns: turns,
		logger:       slog.Default(),
		resources:    make(map[string]mcp.ResourceHandler),
		files:        make(map[string]string),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    version.Name,
		Version: version.Version,
	}, nil)

	s.registerTools()
	s.registerStatusResource()
	if s.metrics != nil {
		s.registerAskMetricsResource()
	}
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	if s.refresher != nil {
		return tools
	}
	var out []ToolInfo
	for _, t := range tools {
		if t.Name != "refresh_index" {
			out = append(out, t)
		}
	}
	return out
}

func (s *Server) registerTools() {
	for _, t := range s.ListTools() {
		tool := &mcp.Tool{Name: t.Name, Description: t.Description}
		switch t.Name {
		case "ask":
			mcp.AddTool(s.mcp, tool, s.mcpAskHandler)
		case "refresh_index":
			mcp.AddTool(s.mcp, tool, s.mcpRefreshHandler)
		case "list_files":
			mcp.AddTool(s.mcp, tool, s.mcpListFilesHandler)
		case "index_status":
			mcp.AddTool(s.mcp, tool, s.mcpIndexStatusHandler)
		}
		s.logger.Debug("Registered tool", slog.String("name", t.Name))
	}
}

// CallTool invokes a tool by name with JSON-style arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "ask":
		var in AskInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.ask(ctx, in)
	case "refresh_index":
		if s.refresher == nil {
			return nil, NewMethodNotFoundError(name)
		}
		return s.refresh(ctx)
	case "list_files":
		return s.listFiles(), nil
	case "index_status":
		return s.indexStatus(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) ask(ctx context.Context, in AskInput) (AskOutput, error) {
	start := time.Now()
	requestID := newRequestID()
	s.logger.Info("ask started",
		slog.String("request_id", requestID),
		slog.String("session", in.Session),
		slog.Int("question_len", len(in.Question)))

	var history []generate.Message
	if in.Session != "" {
		h, err := s.sessionHistory(in.Session)
		if err != nil {
			return AskOutput{}, err
		}
		history = h
	}

	ans, err := s.asker.Ask(ctx, pipeline.Request{Question: in.Question, History: history})
	if err != nil {
		s.logger.Error("ask failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return AskOutput{}, MapError(err)
	}

	out := AskOutput{
		Answer:  ans.Text,
		Sources: ans.Sources,
		Cached:  ans.Cached,
		Session: in.Session,
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	if !ans.Scope.All {
		out.Scope = ans.Scope.Files
	}

	if in.Session != "" {
		if err := s.recordTurn(in, ans); err != nil {
			s.logger.Warn("session_save_failed",
				slog.String("request_id", requestID),
				slog.String("session", in.Session),
				slog.String("error", err.Error()))
		}
	}

	s.logger.Info("ask completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("cached", ans.Cached),
		slog.Int("sources", len(ans.Sources)))
	return out, nil
}

func (s *Server) sessionHistory(name string) ([]generate.Message, error) {
	if s.sessions == nil {
		return nil, NewInvalidParamsError("sessions are not enabled on this server")
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	sess, err := s.sessions.Open(name, s.folder)
	if err != nil {
		return nil, NewInvalidParamsError(err.Error())
	}
	return sess.History(s.historyTurns), nil
}

// recordTurn reopens the session so turns from concurrent calls are kept.
func (s *Server) recordTurn(in AskInput, ans pipeline.Answer) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	sess, err := s.sessions.Open(in.Session, s.folder)
	if err != nil {
		return err
	}
	sess.Append(session.Turn{
		Question: in.Question,
		Answer:   ans.Text,
		Sources:  ans.Sources,
		Cached:   ans.Cached,
		At:       time.Now(),
	})
	return s.sessions.Save(sess)
}

func (s *Server) refresh(ctx context.Context) (RefreshOutput, error) {
	requestID := newRequestID()
	s.logger.Info("refresh_index started", slog.String("request_id", requestID))

	res, err := s.refresher.Refresh(ctx)
	if err != nil {
		s.logger.Error("refresh_index failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return RefreshOutput{}, MapError(err)
	}

	out := RefreshOutput{
		RunID:      res.RunID,
		Files:      res.Files(),
		Built:      nonNil(res.Built),
		Unchanged:  nonNil(res.Unchanged),
		Chunks:     res.Chunks,
		DurationMS: res.Duration.Milliseconds(),
	}
	if len(res.Failed) > 0 {
		out.Failed = make(map[string]string, len(res.Failed))
		for name, ferr := range res.Failed {
			out.Failed[name] = ferr.Error()
		}
	}
	s.logger.Info("refresh_index completed",
		slog.String("request_id", requestID),
		slog.Int("built", len(out.Built)),
		slog.Int("failed", len(out.Failed)))
	return out, nil
}

func (s *Server) listFiles() ListFilesOutput {
	return ListFilesOutput{Folder: s.folder, Files: nonNil(s.asker.Files())}
}

func (s *Server) indexStatus() IndexStatusOutput {
	snap := async.Snapshot{Status: async.StatusReady, Files: s.asker.Files()}
	if s.refresher != nil {
		snap = s.refresher.Snapshot()
	}
	return newIndexStatusOutput(s.folder, snap)
}

func (s *Server) mcpAskHandler(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	out, err := s.ask(ctx, in)
	if err != nil {
		return nil, AskOutput{}, MapError(err)
	}
	return textResult(FormatAnswer(out)), out, nil
}

func (s *Server) mcpRefreshHandler(ctx context.Context, _ *mcp.CallToolRequest, _ RefreshInput) (*mcp.CallToolResult, RefreshOutput, error) {
	out, err := s.refresh(ctx)
	if err != nil {
		return nil, RefreshOutput{}, MapError(err)
	}
	return textResult(FormatRefresh(out)), out, nil
}

func (s *Server) mcpListFilesHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListFilesInput) (*mcp.CallToolResult, ListFilesOutput, error) {
	return nil, s.listFiles(), nil
}

func (s *Server) mcpIndexStatusHandler(_ context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, IndexStatusOutput, error) {
	return nil, s.indexStatus(), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Serve runs the server over stdio until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", "stdio"),
		slog.String("folder", s.folder))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return fmt.Errorf("mcp server: %w", err)
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

func newRequestID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
