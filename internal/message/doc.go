// Package message defines the queue's tagged-union message envelope:
// turns, tool calls, approval responses, and errors, each with exactly
// one body matching its type tag.
package message
