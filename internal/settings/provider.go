// Package settings provides per-conversation settings, read through a local
// cache in front of the server.
package settings

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/chat"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache stores settings locally.
type Cache interface {
	GetSettings(conversationID string) (chat.ConversationSettings, bool, error)
	PutSettings(s chat.ConversationSettings) error
	DeleteSettings(conversationID string) error
}

// API is the server side of settings.
type API interface {
	Settings(ctx context.Context, conversationID string) (chat.ConversationSettings, error)
	UpdateSettings(ctx context.Context, s chat.ConversationSettings) (chat.ConversationSettings, error)
}

// Provider serves settings from the cache and fills misses from the server.
// Concurrent misses for one conversation share a single request.
type Provider struct {
	cache  Cache
	api    API
	logger *zap.Logger
	group  singleflight.Group
}

// NewProvider creates a provider.
func NewProvider(cache Cache, api API, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cache: cache, api: api, logger: logger}
}

// Get returns a conversation's settings.
func (p *Provider) Get(ctx context.Context, conversationID string) (chat.ConversationSettings, error) {
	if s, ok, err := p.cache.GetSettings(conversationID); err != nil {
		p.logger.Warn("settings cache read", zap.String("conversation_id", conversationID), zap.Error(err))
	} else if ok {
		return s, nil
	}

	v, err, _ := p.group.Do(conversationID, func() (any, error) {
		s, err := p.api.Settings(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		p.store(s)
		return s, nil
	})
	if err != nil {
		return chat.ConversationSettings{}, fmt.Errorf("get settings %s: %w", conversationID, err)
	}
	return v.(chat.ConversationSettings), nil
}

// Update writes settings to the server and caches what it kept. The cache
// is untouched when the server call fails.
func (p *Provider) Update(ctx context.Context, s chat.ConversationSettings) (chat.ConversationSettings, error) {
	kept, err := p.api.UpdateSettings(ctx, s)
	if err != nil {
		return chat.ConversationSettings{}, fmt.Errorf("update settings %s: %w", s.ConversationID, err)
	}
	p.store(kept)
	return kept, nil
}

// Invalidate drops a cached entry so the next Get asks the server.
func (p *Provider) Invalidate(conversationID string) {
	if err := p.cache.DeleteSettings(conversationID); err != nil {
		p.logger.Warn("settings cache delete", zap.String("conversation_id", conversationID), zap.Error(err))
	}
}

func (p *Provider) store(s chat.ConversationSettings) {
	if err := p.cache.PutSettings(s); err != nil {
		p.logger.Warn("settings cache write", zap.String("conversation_id", s.ConversationID), zap.Error(err))
	}
}
