// Package tools defines executable tools with JSON Schema argument
// validation, per-conversation tool factories, and the built-in packs.
package tools
