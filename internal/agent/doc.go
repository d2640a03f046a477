// Package agent drives the model side of the conversation loop.
//
// # Overview
//
// The agent listens for turn messages. Each turn's chat messages are
// appended to the conversation's durable context log, the model is
// invoked with a bounded window of recent context plus the
// conversation's tool schemas, and the model's reply is appended back.
// Tool choice is forced, so the model acts only through tools; replies
// to the user flow through a frontend-contributed send_message tool.
//
// # Tool calls
//
// Each tool call the model requests becomes a tool-call message on the
// queue for the runner to gate and execute. A text marker noting the
// outstanding call is appended to context so the model remembers what
// it asked for across the approval gap. A turn whose items are all
// still-pending tool results skips the model entirely: there is nothing
// new to react to until a result lands.
//
// # Context window
//
// The full context log is durable and unbounded; only the most recent
// ContextWindow messages are sent to the model. The in-memory window is
// rehydrated from the log on the first turn after a restart.
//
// # Errors
//
// Provider API failures (rate limits, overload, auth) are converted to
// error messages on the queue so a frontend can surface them; they do
// not fail the turn, which would only trigger a redundant replay.
package agent
