// Package producer supplies the text-producing collaborator used by the
// expansion phase. Every backend satisfies TextProducer; the loop never
// knows which one it is talking to.
package producer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// #region message
// Role of one prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prompt turn handed to a producer.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LastUser returns the content of the most recent user message, or "".
func LastUser(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// #endregion message

// #region interface
// TextProducer turns prompt messages into text. Implementations may block
// and may fail; failures are returned, never replaced with empty text.
type TextProducer interface {
	ProduceText(ctx context.Context, messages []Message) (string, error)
}

// Func adapts a plain function to TextProducer.
type Func func(ctx context.Context, messages []Message) (string, error)

// ProduceText calls f.
func (f Func) ProduceText(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// #endregion interface

// #region config
const (
	ProviderTemplate = "template"
	ProviderEcho     = "echo"
	ProviderGRPC     = "grpc"
	ProviderGemini   = "gemini"
)

// Config selects and tunes a producer backend.
type Config struct {
	Provider    string        `yaml:"provider"`
	Addr        string        `yaml:"addr"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"-"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int32         `yaml:"max_tokens"`
	Retries     int           `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the deterministic template backend with the proxy's
// sampling defaults for live backends.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderTemplate,
		Addr:        "localhost:50051",
		Model:       "gemini-2.5-flash",
		Temperature: 0.4,
		MaxTokens:   700,
		Retries:     DefaultRetries,
		RetryDelay:  250 * time.Millisecond,
		Timeout:     60 * time.Second,
	}
}

// #endregion config

// #region factory
// New builds the producer named by cfg.Provider. Live backends are wrapped in
// a Retrying producer when cfg.Retries > 0. The returned closer releases any
// connection held by the backend and is never nil.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (TextProducer, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() error { return nil }

	var (
		p      TextProducer
		closer = noop
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderTemplate:
		return Template{}, noop, nil
	case ProviderEcho:
		return Echo{}, noop, nil
	case ProviderGRPC:
		r, err := NewRemote(cfg.Addr)
		if err != nil {
			return nil, noop, err
		}
		p, closer = r, r.Close
	case ProviderGemini:
		g, err := NewGemini(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		p = g
	default:
		return nil, noop, fmt.Errorf("unknown producer %q", cfg.Provider)
	}

	if cfg.Timeout > 0 {
		p = WithTimeout(p, cfg.Timeout)
	}
	if cfg.Retries > 0 {
		p = NewRetrying(p, RetryConfig{MaxRetries: cfg.Retries, Delay: cfg.RetryDelay}, logger)
	}
	return p, closer, nil
}

// WithTimeout bounds every call to p by d.
func WithTimeout(p TextProducer, d time.Duration) TextProducer {
	return Func(func(ctx context.Context, messages []Message) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return p.ProduceText(ctx, messages)
	})
}

// #endregion factory
