package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dotcommander/yagent/internal/agent"
	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/mcp"
	"github.com/dotcommander/yagent/internal/present"
	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/storage"
	"github.com/dotcommander/yagent/internal/tool"
	"github.com/dotcommander/yagent/internal/workspace"
)

// session is everything one conversation needs: the tool registry with its
// MCP servers, the loop, and where it is saved. It is built once per
// process and torn down by Close.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	logFile  io.Closer
	stderr   io.Writer
	model    config.Model
	project  workspace.Project
	registry *tool.Registry
	mcp      *mcp.Service
	loop     *agent.Loop
	store    *conversationStore
	plan     conversationPlan

	announced bool
}

// openSession builds the session for rt's configuration.
func (rt *runtime) openSession(ctx context.Context) (*session, error) {
	cfg := &rt.cfg
	logger, logFile, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	s := &session{cfg: cfg, logger: logger, logFile: logFile, stderr: rt.stderr}
	if err := s.open(ctx, rt.newProvider); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) open(ctx context.Context, newProvider providerFunc) error {
	store, err := openConversationStore(s.cfg.CachePath)
	if err != nil {
		return errs.Wrap(err, "Could not open the conversation store.")
	}
	s.store = store

	s.plan, err = planConversation(s.cfg, store.DB)
	if err != nil {
		return err
	}
	s.cfg.API, s.cfg.Model = s.plan.API, s.plan.Model

	var conv *proto.Conversation
	if s.plan.ReadID != "" {
		conv, err = store.load(s.plan.ReadID)
		if err != nil {
			return errs.Wrap(err, "There was a problem reading the conversation from cache.")
		}
	}

	p, mod, err := newProvider(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.model = mod

	system, err := s.cfg.SystemPrompt()
	if err != nil {
		return err
	}

	ts, err := newToolset(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.project, s.registry, s.mcp = ts.project, ts.registry, ts.mcp
	if !s.cfg.NoTools {
		if err := s.mcp.ConnectAll(ctx); err != nil {
			// Servers that did connect stay usable.
			s.notice(err)
		}
	}

	dispatcher := tool.NewDispatcher(s.registry,
		tool.WithTimeout(s.cfg.ToolTimeout),
		tool.WithLogger(s.logger),
	)
	req := agent.RequestFromConfig(s.cfg, mod, system)
	s.loop = agent.New(p, s.registry, dispatcher, conv, agent.OptionsFromConfig(s.cfg, req, s.logger))
	s.logger.Info("session ready",
		"api", s.cfg.API,
		"model", mod.Name,
		"session", s.plan.WriteID,
		"resumed", s.plan.ReadID != "",
		"tools", s.registry.Snapshot().Len(),
		"workspace", s.project.Root,
	)
	return nil
}

func detectProject(logger *slog.Logger) workspace.Project {
	cwd, err := os.Getwd()
	if err != nil {
		logger.Warn("could not determine working directory", "error", err)
		return workspace.Project{Type: workspace.TypeUnknown}
	}
	project, err := workspace.NewDetector(cwd).Detect()
	if err != nil {
		logger.Warn("workspace detection failed", "root", cwd, "error", err)
		return workspace.Project{Root: cwd, Type: workspace.TypeUnknown}
	}
	return project
}

// exchange runs one user turn. Over-long input is cut to the model's limit.
func (s *session) exchange(ctx context.Context, input string, sink agent.Sink) (agent.Outcome, error) {
	if cut, ok := truncateInput(input, s.model.MaxChars); ok {
		s.notice(fmt.Errorf("input truncated to %d characters", s.model.MaxChars))
		input = cut
	}
	return s.loop.Run(ctx, input, sink)
}

// save writes the conversation to the cache, unless caching is disabled.
// Where it went is printed once per conversation.
func (s *session) save() error {
	msgs := s.loop.Conversation().Messages()
	if len(msgs) == 0 {
		return nil
	}
	if s.cfg.NoCache {
		return nil
	}

	title := sessionTitle(s.plan.Title, msgs)
	reason := fmt.Sprintf(
		"There was a problem writing %s to the cache. Use %s / %s to disable it.",
		storage.ShortID(s.plan.WriteID),
		present.StderrStyles().InlineCode.Render("--no-cache"),
		present.StderrStyles().InlineCode.Render(config.EnvPrefix+"NO_CACHE"),
	)
	if err := s.store.Cache.Write(s.plan.WriteID, msgs); err != nil {
		return errs.Wrap(err, reason)
	}
	if err := s.store.DB.Save(storage.Session{
		ID:        s.plan.WriteID,
		Title:     title,
		API:       s.cfg.API,
		Model:     s.cfg.Model,
		Workspace: s.project.Root,
		Messages:  len(msgs),
	}); err != nil {
		_ = s.store.Cache.Delete(s.plan.WriteID)
		return errs.Wrap(err, reason)
	}
	s.plan.Title = title
	s.logger.Debug("session saved", "session", s.plan.WriteID, "messages", len(msgs))

	if !s.cfg.Quiet && !s.announced {
		s.announced = true
		_, _ = fmt.Fprintln(
			s.stderr,
			"\nConversation saved:",
			present.StderrStyles().InlineCode.Render(storage.ShortID(s.plan.WriteID)),
			present.StderrStyles().Comment.Render(title),
		)
	}
	return nil
}

// reset starts a new conversation that is saved under a new id.
func (s *session) reset() error {
	if err := s.loop.Reset(nil); err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	s.plan.WriteID = storage.NewID()
	s.plan.ReadID = ""
	s.plan.Title = ""
	s.announced = false
	return nil
}

// notice prints a non fatal problem to stderr.
func (s *session) notice(err error) {
	s.logger.Warn("notice", "error", err)
	if s.cfg.Quiet {
		return
	}
	reason, details := errs.Parts(err)
	if reason == "" {
		reason, details = details, ""
	}
	_, _ = fmt.Fprintln(s.stderr, present.StderrStyles().Comment.Render("! "+reason))
	if details != "" {
		_, _ = fmt.Fprintln(s.stderr, present.StderrStyles().ErrorDetails.Render("  "+details))
	}
}

// Close disconnects MCP servers and closes the log.
func (s *session) Close() error {
	var problems []error
	if s.mcp != nil {
		problems = append(problems, s.mcp.Close())
	}
	if s.logFile != nil {
		problems = append(problems, s.logFile.Close())
	}
	return errors.Join(problems...)
}
