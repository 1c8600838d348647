package repo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/logger"
)

type ChatRole string

const (
	RoleUser ChatRole = "user"
	RoleAI   ChatRole = "ai"
)

// Attachment describes a file sent with a chat message. ObjectKey is set when the file
// was uploaded to object storage.
type Attachment struct {
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	Size      int64  `json:"size"`
	ObjectKey string `json:"objectKey,omitempty"`
}

type ChatMessage struct {
	Role       ChatRole    `json:"role"`
	Content    string      `json:"content"`
	IsMarkdown bool        `json:"isMarkdown"`
	Attachment *Attachment `json:"attachment,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
}

type Conversation struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Timestamp time.Time     `json:"timestamp"`
	Messages  []ChatMessage `json:"messages"`
}

// Conversations is the chat history, persisted as one map keyed by conversation id.
type Conversations struct {
	store kv.Store
	log   *zap.Logger
}

func NewConversations(store kv.Store, log *zap.Logger) *Conversations {
	return &Conversations{store: store, log: logger.OrNop(log)}
}

func (c *Conversations) all(ctx context.Context) map[string]Conversation {
	history := map[string]Conversation{}
	if !readJSON(ctx, c.store, c.log, keyConversations, &history) || history == nil {
		return map[string]Conversation{}
	}
	return history
}

// load reads the collection for a mutation.
func (c *Conversations) load(ctx context.Context) (map[string]Conversation, error) {
	history := map[string]Conversation{}
	if err := loadJSON(ctx, c.store, keyConversations, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = map[string]Conversation{}
	}
	return history, nil
}

// List returns every conversation, most recent first.
func (c *Conversations) List(ctx context.Context) []Conversation {
	history := c.all(ctx)
	out := make([]Conversation, 0, len(history))
	for _, conv := range history {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

func (c *Conversations) Get(ctx context.Context, id string) (Conversation, bool) {
	conv, ok := c.all(ctx)[id]
	return conv, ok
}

// Save inserts or replaces conv and rewrites the collection.
func (c *Conversations) Save(ctx context.Context, conv Conversation) error {
	history, err := c.load(ctx)
	if err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	history[conv.ID] = conv
	if err := kv.SetJSON(ctx, c.store, keyConversations, history); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}

func (c *Conversations) Delete(ctx context.Context, id string) error {
	history, err := c.load(ctx)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if _, ok := history[id]; !ok {
		return kv.ErrNotFound
	}
	delete(history, id)
	if err := kv.SetJSON(ctx, c.store, keyConversations, history); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}
