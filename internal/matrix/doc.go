// Package matrix connects the session engine and the webhook dispatcher to a
// Matrix homeserver.
//
// Inbound room messages and reactions become session events. Outbound
// messages are numbered per room through the message ledger so the engine can
// edit, delete and range-delete them by number. Inline keyboards have no
// Matrix equivalent; they are rendered as numbered options that the bot
// pre-reacts to, and a user reaction on an option maps back to its button.
package matrix
