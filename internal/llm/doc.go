// Package llm abstracts model providers behind a single Invoke call and
// implements the Anthropic Messages API provider.
package llm
