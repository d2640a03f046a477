// Package runner coordinates tool approval and execution.
//
// # Flow
//
// The runner listens for tool-call and approval-response messages. A
// tool-call is checked against the pre-approved list; anything else is
// put to the Approver, which may decide immediately (console y/n) or
// report pending and deliver the decision later as an approval-response
// message (Discord buttons). Pending calls emit nothing: a conversation
// can wait on a human indefinitely without holding any goroutine.
//
// Approved calls are resolved against the conversation's tool set and
// executed; rejected calls short-circuit to a fixed "rejected by
// operator" error result. Either way the outcome is sent back as a turn
// carrying a tool result, which re-enters the agent loop.
package runner
