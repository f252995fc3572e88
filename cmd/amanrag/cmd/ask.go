package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrag/internal/daemon"
	"github.com/Aman-CERP/amanrag/internal/generate"
	"github.com/Aman-CERP/amanrag/internal/output"
	"github.com/Aman-CERP/amanrag/internal/pipeline"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/internal/session"
	"github.com/Aman-CERP/amanrag/internal/ui"
)

type askOptions struct {
	folder    string
	session   string
	noStream  bool
	noRefresh bool
	json      bool
	offline   bool
	noDaemon  bool
}

// askResult is the --json output of ask.
type askResult struct {
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Sources  []string `json:"sources"`
	Cached   bool     `json:"cached"`
	Scope    []string `json:"scope,omitempty"`
	Session  string   `json:"session,omitempty"`
}

func newAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Ask a question about the files in a folder",
		Long: `Refresh the folder's index, then answer a question from its files.

A question that names a file ("what does report.pdf say about costs?") is
answered from that file only. Other questions search every file.

Use --session to keep a named conversation: earlier turns are sent along
as history so follow-up questions work.

When "amanrag daemon" is running the question is answered by the daemon,
which keeps models and the semantic cache loaded between questions.

Examples:
  amanrag ask -C ~/notes "what did the team decide on pricing?"
  amanrag ask --session q3 "and what about the timeline?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runAsk(ctx, cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.folder, "folder", "C", ".", "Folder to answer from")
	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Named conversation to continue")
	cmd.Flags().BoolVar(&opts.noStream, "no-stream", false, "Print the answer when complete instead of streaming")
	cmd.Flags().BoolVar(&opts.noRefresh, "no-refresh", false, "Answer from the existing index without refreshing")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON (implies --no-stream)")
	cmd.Flags().BoolVar(&opts.noDaemon, "no-daemon", false, "Answer in this process even when a daemon is running")
	addOfflineFlag(cmd, &opts.offline)

	return cmd
}

func runAsk(ctx context.Context, cmd *cobra.Command, question string, opts askOptions) error {
	question = strings.TrimSpace(question)
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	if !opts.noDaemon {
		if client := daemon.NewClient(daemon.DefaultConfig()); client.IsRunning() {
			return runAskDaemon(ctx, cmd, client, question, opts)
		}
	}

	a, err := openApp(opts.folder, opts.offline)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	p, err := a.pipeline(ctx)
	if err != nil {
		return err
	}
	if err := loadCollections(ctx, a, p, opts.noRefresh); err != nil {
		return err
	}

	conv, err := openConversation(a.folder, opts.session)
	if err != nil {
		return err
	}
	req := pipeline.Request{Question: question, History: conv.history()}

	out := output.New(cmd.OutOrStdout())
	var ans pipeline.Answer
	streamed := !opts.json && !opts.noStream
	if streamed {
		ans, err = p.AskStream(ctx, req, out.Fragment)
		if err == nil {
			out.Newline()
		}
	} else {
		ans, err = p.Ask(ctx, req)
	}
	if err != nil {
		return err
	}

	conv.record(question, ans)
	return printAnswer(cmd, question, ans, opts, streamed)
}

// runAskDaemon answers through a running daemon, which keeps the folder's
// models and semantic cache warm between questions.
func runAskDaemon(ctx context.Context, cmd *cobra.Command, client *daemon.Client, question string, opts askOptions) error {
	folder, err := resolveFolder(opts.folder)
	if err != nil {
		return err
	}
	conv, err := openConversation(folder, opts.session)
	if err != nil {
		return err
	}

	params := daemon.AskParams{
		Question:  question,
		Folder:    folder,
		NoRefresh: opts.noRefresh,
		Offline:   opts.offline,
	}
	for _, m := range conv.history() {
		params.History = append(params.History, daemon.HistoryMessage{Role: m.Role, Content: m.Content})
	}

	slog.Debug("ask_via_daemon", slog.String("folder", folder))
	res, err := client.Ask(ctx, params)
	if err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	ans := pipeline.Answer{
		Text:    res.Answer,
		Sources: res.Sources,
		Cached:  res.Cached,
		Scope:   search.Scope{Files: res.Scope, All: len(res.Scope) == 0},
	}
	conv.record(question, ans)
	return printAnswer(cmd, question, ans, opts, false)
}

// conversation is the optional named session of an ask.
type conversation struct {
	manager *session.Manager
	session *session.Session
}

// openConversation opens the named session of folder. An empty name
// returns a conversation that records nothing.
func openConversation(folder, name string) (*conversation, error) {
	if name == "" {
		return &conversation{}, nil
	}
	mgr, err := sessionManager(folder)
	if err != nil {
		return nil, err
	}
	sess, err := mgr.Open(name, folder)
	if err != nil {
		return nil, err
	}
	return &conversation{manager: mgr, session: sess}, nil
}

func (c *conversation) history() []generate.Message {
	if c.session == nil {
		return nil
	}
	return c.session.History(session.DefaultHistoryTurns)
}

// record appends the turn and saves the session. A failed save is logged;
// the answer was already produced.
func (c *conversation) record(question string, ans pipeline.Answer) {
	if c.session == nil {
		return
	}
	c.session.Append(session.Turn{
		Question: question,
		Answer:   ans.Text,
		Sources:  ans.Sources,
		Cached:   ans.Cached,
		At:       time.Now(),
	})
	if err := c.manager.Save(c.session); err != nil {
		slog.Warn("session_save_failed",
			slog.String("session", c.session.Name),
			slog.String("error", err.Error()))
	}
}

// printAnswer writes ans in the requested format. A streamed answer has
// already been written and only gets its sources line.
func printAnswer(cmd *cobra.Command, question string, ans pipeline.Answer, opts askOptions, streamed bool) error {
	out := output.New(cmd.OutOrStdout())
	switch {
	case opts.json:
		res := askResult{
			Question: question,
			Answer:   ans.Text,
			Sources:  ans.Sources,
			Cached:   ans.Cached,
			Session:  opts.session,
		}
		if res.Sources == nil {
			res.Sources = []string{}
		}
		if !ans.Scope.All {
			res.Scope = ans.Scope.Files
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case streamed:
		out.Sources(ans.Sources, ans.Cached)
	default:
		out.Answer(ans.Text, ans.Sources, ans.Cached)
	}
	return nil
}

// loadCollections points p at the folder's collections, refreshing first
// unless skip is set. A refresh held by another process falls back to the
// collections already built.
func loadCollections(ctx context.Context, a *app, p *pipeline.Pipeline, skip bool) error {
	if !skip {
		res, err := a.refresh(ctx, ui.NewPlainRenderer(ui.NewConfig(io.Discard)))
		if err == nil {
			p.Publish(res.Collections, res.Built)
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		slog.Warn("ask_refresh_failed", slog.String("error", err.Error()))
	}

	collections, err := a.existingCollections(ctx)
	if err != nil {
		return err
	}
	p.SetCollections(collections)
	return nil
}
