package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/telemetry"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

// MaxResourceSize is the largest file returned as a resource (10MB).
const MaxResourceSize = 10 * 1024 * 1024

// Fixed resource URIs.
const (
	StatusURI     = "amanrag://status"
	AskMetricsURI = "amanrag://ask_metrics"
)

// FileURI returns the file:// URI for filename inside folder.
func FileURI(folder, filename string) string {
	abs, err := filepath.Abs(filepath.Join(folder, filename))
	if err != nil {
		abs = filepath.Join(folder, filename)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

func (s *Server) addResource(r *mcp.Resource, h mcp.ResourceHandler) {
	s.mcp.AddResource(r, h)
	s.resources[r.URI] = h
}

// SyncResources makes the file resources match files: removed files are
// unregistered and new ones registered. Call it after every refresh.
func (s *Server) SyncResources(files []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []string
	for name, uri := range s.files {
		if !slices.Contains(files, name) {
			stale = append(stale, uri)
			delete(s.files, name)
			delete(s.resources, uri)
		}
	}
	if len(stale) > 0 {
		s.mcp.RemoveResources(stale...)
	}

	added := 0
	for _, name := range files {
		if _, ok := s.files[name]; ok {
			continue
		}
		uri := FileURI(s.folder, name)
		desc := name
		if info, err := os.Stat(filepath.Join(s.folder, name)); err == nil {
			desc = fmt.Sprintf("%s (%s)", name, ui.FormatBytes(info.Size()))
		}
		s.addResource(&mcp.Resource{
			Name:        name,
			URI:         uri,
			Description: desc,
			MIMEType:    MimeTypeForPath(name),
		}, s.makeFileHandler(name, uri))
		s.files[name] = uri
		added++
	}

	s.logger.Info("resources synced",
		slog.Int("files", len(files)),
		slog.Int("added", added),
		slog.Int("removed", len(stale)))
}

// ReadResource reads a registered resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	s.mu.RLock()
	h, ok := s.resources[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, NewResourceNotFoundError(uri)
	}
	return h(ctx, nil)
}

func (s *Server) makeFileHandler(name, uri string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readFile(name, uri)
	}
}

// readFile returns text files as text and documents or audio as blobs.
func (s *Server) readFile(name, uri string) (*mcp.ReadResourceResult, error) {
	path := filepath.Join(s.folder, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &MCPError{Code: ErrCodeFileNotFound, Message: fmt.Sprintf("file not found: %s", name)}
		}
		return nil, MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return nil, &MCPError{
			Code:    ErrCodeFileTooLarge,
			Message: fmt.Sprintf("file too large: %d bytes (max %d)", info.Size(), MaxResourceSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, MapError(err)
	}
	content := &mcp.ResourceContents{URI: uri, MIMEType: MimeTypeForPath(name)}
	if isText(content.MIMEType) {
		content.Text = string(data)
	} else {
		content.Blob = data
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{content}}, nil
}

func (s *Server) registerStatusResource() {
	s.addResource(&mcp.Resource{
		Name:        "status",
		URI:         StatusURI,
		Description: "Refresh state and queryable files",
		MIMEType:    "application/json",
	}, func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return jsonResource(StatusURI, s.indexStatus())
	})
}

// AskMetricsOutput is the JSON structure for the ask_metrics resource.
type AskMetricsOutput struct {
	*telemetry.AskMetricsSnapshot
	CacheHitRate float64 `json:"cache_hit_rate"`
}

func (s *Server) registerAskMetricsResource() {
	s.addResource(&mcp.Resource{
		Name:        "ask_metrics",
		URI:         AskMetricsURI,
		Description: "Question outcomes, latency, and cache hit rate since the server started",
		MIMEType:    "application/json",
	}, func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		snap := s.metrics.Snapshot()
		return jsonResource(AskMetricsURI, AskMetricsOutput{
			AskMetricsSnapshot: snap,
			CacheHitRate:       snap.CacheHitRate(),
		})
	})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}
