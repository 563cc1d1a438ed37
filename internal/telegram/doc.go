// Package telegram is the chat-facing message source.
//
// It long-polls the Telegram Bot API, filters messages through the allow-list,
// forwards each text message to a Requester keyed by chat id, and renders the
// Markdown reply as Telegram HTML.
package telegram
