// Package discord is the Discord frontend: channel messages become
// turns, tool approvals become Approve/Reject buttons, and the
// send_message tool posts the agent's replies back to the channel.
package discord
