// Package transport abstracts the message delivery channel.
package transport

import "context"

// Transport posts and edits rendered messages in a chat. Implementations
// return the provider's message identifier so edit-mode targets can update
// their last message in place.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) (int64, error)
	Edit(ctx context.Context, chatID int64, messageID int64, text string) error
}
