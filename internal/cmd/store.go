package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/x/exp/ordered"

	"github.com/dotcommander/yagent/internal/config"
	"github.com/dotcommander/yagent/internal/errs"
	"github.com/dotcommander/yagent/internal/proto"
	"github.com/dotcommander/yagent/internal/storage"
	"github.com/dotcommander/yagent/internal/storage/cache"
)

// conversationStore bundles the session index and the message cache.
type conversationStore struct {
	DB    *storage.DB
	Cache *cache.Conversations
}

func openConversationStore(cachePath string) (*conversationStore, error) {
	convoCache, err := cache.NewConversations(cachePath)
	if err != nil {
		return nil, fmt.Errorf("open conversation cache: %w", err)
	}
	db, err := storage.Open(filepath.Join(cachePath, "conversations"))
	if err != nil {
		return nil, fmt.Errorf("open conversation index: %w", err)
	}
	return &conversationStore{DB: db, Cache: convoCache}, nil
}

// find resolves in to a saved session. An empty in is the latest one.
func (s *conversationStore) find(in string) (storage.Session, error) {
	if in == "" {
		found, err := s.DB.Latest()
		if err != nil {
			return storage.Session{}, fmt.Errorf("find latest conversation: %w", err)
		}
		return found, nil
	}
	found, err := s.DB.Find(in)
	if err != nil {
		return storage.Session{}, fmt.Errorf("find conversation %q: %w", in, err)
	}
	return found, nil
}

// load returns the messages of a saved session.
func (s *conversationStore) load(id string) (*proto.Conversation, error) {
	msgs, err := s.Cache.Read(id)
	if err != nil {
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	conv, err := proto.Restore(msgs)
	if err != nil {
		return nil, fmt.Errorf("restore conversation: %w", err)
	}
	return conv, nil
}

func (s *conversationStore) delete(id string) error {
	if err := s.DB.Delete(id); err != nil {
		return fmt.Errorf("delete conversation index: %w", err)
	}
	if err := s.Cache.Delete(id); err != nil {
		return fmt.Errorf("delete conversation payload: %w", err)
	}
	return nil
}

type conversationPlan struct {
	// WriteID is where the conversation is saved.
	WriteID string
	// ReadID is the saved conversation to resume, if any.
	ReadID string
	Title  string
	API    string
	Model  string
}

// planConversation decides which session a run resumes and where it is saved.
// Resumed sessions keep their id, API and model.
func planConversation(cfg *config.Config, db *storage.DB) (conversationPlan, error) {
	pl := conversationPlan{
		Title: strings.TrimSpace(cfg.Title),
		API:   cfg.API,
		Model: cfg.Model,
	}
	if cfg.Continue == "" && !cfg.ContinueLast {
		pl.WriteID = storage.NewID()
		return pl, nil
	}

	store := conversationStore{DB: db}
	found, err := store.find(cfg.Continue)
	if err != nil {
		if errors.Is(err, storage.ErrNoMatches) && cfg.Continue != "" && !cfg.ContinueLast {
			// Continuing an unknown title starts a session with that title.
			pl.WriteID = storage.NewID()
			pl.Title = ordered.First(pl.Title, cfg.Continue)
			return pl, nil
		}
		return conversationPlan{}, errs.Wrap(err, "Could not find the conversation.")
	}
	pl.ReadID = found.ID
	pl.WriteID = found.ID
	pl.Title = ordered.First(pl.Title, found.Title)
	if found.API != "" && found.Model != "" {
		pl.API = found.API
		pl.Model = found.Model
	}
	return pl, nil
}

// sessionTitle is the title to save msgs under.
func sessionTitle(title string, msgs []proto.Message) string {
	if title = strings.TrimSpace(title); title != "" && !storage.IDRegexp.MatchString(title) {
		return title
	}
	return firstLine(lastPrompt(msgs))
}

func lastPrompt(messages []proto.Message) string {
	var result string
	for _, msg := range messages {
		if msg.Role != proto.RoleUser || msg.Content == "" {
			continue
		}
		result = msg.Content
	}
	return result
}

func firstLine(s string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return first
}
