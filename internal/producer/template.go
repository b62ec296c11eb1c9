package producer

import "context"

// Template is the deterministic writer. The loop already renders the full
// draft into the last user message, so Template returns it unchanged.
type Template struct{}

// ProduceText returns the last user message.
func (Template) ProduceText(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return LastUser(messages), nil
}

// Echo mirrors the last user message back, prefixed, for a no-backend baseline.
type Echo struct{}

// ProduceText returns "(echo) You said: <last user message>".
func (Echo) ProduceText(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "(echo) You said: " + LastUser(messages), nil
}
