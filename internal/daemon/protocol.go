package daemon

import (
	"errors"
	"path/filepath"
	"strings"
)

// JSON-RPC 2.0 method names.
const (
	MethodAsk     = "ask"
	MethodRefresh = "refresh"
	MethodStatus  = "status"
	MethodPing    = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon error codes.
const (
	ErrCodeAskFailed     = -32001
	ErrCodeRefreshFailed = -32002
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements error so client callers can inspect the code.
func (e *Error) Error() string {
	return e.Message
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// HistoryMessage is one earlier turn sent along with a question.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AskParams are the parameters of the ask method.
type AskParams struct {
	// Question is required.
	Question string `json:"question"`

	// Folder is the absolute folder path (required).
	Folder string `json:"folder"`

	// History is the conversation so far, oldest first.
	History []HistoryMessage `json:"history,omitempty"`

	// NoRefresh answers from the collections already loaded.
	NoRefresh bool `json:"no_refresh,omitempty"`

	// Offline selects static embeddings and local reranking.
	Offline bool `json:"offline,omitempty"`
}

// Validate trims the question and checks required fields.
func (p *AskParams) Validate() error {
	p.Question = strings.TrimSpace(p.Question)
	if p.Question == "" {
		return errors.New("question is required")
	}
	return validateFolder(p.Folder)
}

// AskResult is the answer to one question.
type AskResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Cached  bool     `json:"cached"`
	// Scope lists the files the question named. Empty means every file.
	Scope []string `json:"scope,omitempty"`
}

// RefreshParams are the parameters of the refresh method.
type RefreshParams struct {
	Folder  string `json:"folder"`
	Offline bool   `json:"offline,omitempty"`
}

// Validate checks required fields.
func (p *RefreshParams) Validate() error {
	return validateFolder(p.Folder)
}

// RefreshResult summarizes one refresh run by the daemon.
type RefreshResult struct {
	RunID      string            `json:"run_id"`
	Files      []string          `json:"files"`
	Built      []string          `json:"built,omitempty"`
	Unchanged  []string          `json:"unchanged,omitempty"`
	Failed     map[string]string `json:"failed,omitempty"`
	Chunks     int               `json:"chunks"`
	DurationMS int64             `json:"duration_ms"`
}

// FolderStatus describes one folder the daemon holds open.
type FolderStatus struct {
	Folder    string `json:"folder"`
	Files     int    `json:"files"`
	Refresh   string `json:"refresh"`
	Refreshes int    `json:"refreshes"`
}

// StatusResult is the daemon status.
type StatusResult struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	Uptime        string         `json:"uptime"`
	FoldersLoaded int            `json:"folders_loaded"`
	Folders       []FolderStatus `json:"folders,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}

func validateFolder(folder string) error {
	if folder == "" {
		return errors.New("folder is required")
	}
	if !filepath.IsAbs(folder) {
		return errors.New("folder must be an absolute path")
	}
	return nil
}
