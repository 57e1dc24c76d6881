package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/dotcommander/yagent/internal/proto"
)

const formatVersion = 1

type document struct {
	Version  int             `json:"version"`
	Messages []proto.Message `json:"messages"`
}

// Conversations stores the messages of saved sessions.
type Conversations struct {
	store *Store
}

// NewConversations creates the conversation cache under cachePath.
func NewConversations(cachePath string) (*Conversations, error) {
	store, err := NewStore(filepath.Join(cachePath, "conversations"))
	if err != nil {
		return nil, err
	}
	return &Conversations{store: store}, nil
}

// Write saves messages under id.
func (c *Conversations) Write(id string, messages []proto.Message) error {
	return c.store.Write(id, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(document{Version: formatVersion, Messages: messages})
	})
}

// Read loads the messages saved under id.
func (c *Conversations) Read(id string) ([]proto.Message, error) {
	var doc document
	if err := c.store.Read(id, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(&doc)
	}); err != nil {
		return nil, err
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("read %s: unsupported format version %d", id, doc.Version)
	}
	return doc.Messages, nil
}

// Delete removes the messages saved under id.
func (c *Conversations) Delete(id string) error {
	return c.store.Delete(id)
}
