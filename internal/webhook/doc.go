// ABOUTME: Package webhook receives Redmine issue-change notifications
// ABOUTME: and forwards them to the chats of the users involved

// Package webhook is the inbound side of the bridge. Redmine's webhook
// plugin posts a delivery per issue change; the server authenticates it with
// a shared secret, and the Dispatcher sends a formatted summary plus any new
// attachments to each recipient whose chat binding is known.
package webhook
