package tool

import "context"

// Conversation identifies the chat a tool call was made from.
type Conversation struct {
	BusinessID  string
	UserID      string
	SenderPhone string
}

type conversationKey struct{}

func WithConversation(ctx context.Context, c Conversation) context.Context {
	return context.WithValue(ctx, conversationKey{}, c)
}

func ConversationFromContext(ctx context.Context) (Conversation, bool) {
	c, ok := ctx.Value(conversationKey{}).(Conversation)
	return c, ok
}
