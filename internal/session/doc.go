// ABOUTME: Package session implements the chat conversation flows
// ABOUTME: A per-(chat, sender) state machine driving Redmine comments and issue creation

// Package session turns chat events into Redmine actions.
//
// Each (chat, sender) pair owns a Session whose State decides how the next
// text is read. Events for one pair are handled strictly in order on a
// keyed.Serializer lane. Commands and callbacks work from any state; plain
// text is interpreted by the current state, then as a reply to a message
// naming an issue, then as a long text that opens the action menu.
//
// Attachments are buffered as references and downloaded only when a comment
// or issue is written. Errors become one chat reply; identity and validation
// errors reset the session, outages keep it so the user can retry.
package session
