// Package chat defines the model-facing message types shared by the
// agent, the runner, and providers.
package chat
