package ai

import (
	"context"
	"sync"
	"time"
)

// Assistant answers operator questions about the fleet in free text.
type Assistant interface {
	Ask(ctx context.Context, prompt string, history []ChatMessage) (string, error)
}

const assistantSystemPrompt = `You are the operations assistant for a laundromat fleet dashboard.
Answer concisely. When asked about machines, incidents or calls, reason from
the data the operator pastes into the conversation; do not invent records.`

// OpenAICompatAssistant proxies chat turns to an OpenAI-compatible endpoint,
// memoizing identical prompts for a short window.
type OpenAICompatAssistant struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration

	mu    sync.Mutex
	cache map[string]assistantCacheEntry
}

type assistantCacheEntry struct {
	value string
	exp   time.Time
}

const assistantCacheTTL = 60 * time.Second

func (a *OpenAICompatAssistant) Ask(ctx context.Context, prompt string, history []ChatMessage) (string, error) {
	if len(history) == 0 {
		if v, ok := a.cacheGet(prompt); ok {
			return v, nil
		}
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: "system", Content: assistantSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, ChatMessage{Role: "user", Content: prompt})

	answer, err := chatComplete(ctx, a.BaseURL, a.APIKey, a.Model, messages, a.Timeout)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		a.cacheSet(prompt, answer)
	}
	return answer, nil
}

func (a *OpenAICompatAssistant) cacheGet(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.cache[key]; ok {
		if time.Now().Before(e.exp) {
			return e.value, true
		}
		delete(a.cache, key)
	}
	return "", false
}

func (a *OpenAICompatAssistant) cacheSet(key, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache == nil {
		a.cache = map[string]assistantCacheEntry{}
	}
	a.cache[key] = assistantCacheEntry{value: value, exp: time.Now().Add(assistantCacheTTL)}
}
