// ABOUTME: Built-in tool packs: echo, current_time, and a store-backed notes pack
// ABOUTME: The notes pack is parameterized by conversation so notes stay scoped

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glitchassassin/forge/internal/store"
)

// BasePack returns the always-available tools.
func BasePack() Factory {
	set := Set{
		"echo": {
			Name:        "echo",
			Description: "Echo a message back verbatim",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"msg":{"type":"string"}},"required":["msg"]}`),
			Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
				var in struct {
					Msg string `json:"msg"`
				}
				if err := json.Unmarshal(args, &in); err != nil {
					return nil, err
				}
				return in.Msg, nil
			},
		},
		"current_time": {
			Name:        "current_time",
			Description: "Get the current UTC time in RFC 3339 format",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Execute: func(ctx context.Context, args json.RawMessage) (any, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
	}
	return Static(set)
}

// NotesPack returns key-value note tools backed by the given store, scoped
// to the conversation the set is resolved for.
func NotesPack(s store.Store) Factory {
	return func(conversation string) Set {
		n := &notes{store: s, conversation: conversation}
		return Set{
			"note_set": {
				Name:        "note_set",
				Description: "Save a note under a key for this conversation",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"},"value":{"type":"string"}},"required":["key","value"]}`),
				Execute:     n.set,
			},
			"note_get": {
				Name:        "note_get",
				Description: "Read a note by key for this conversation",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`),
				Execute:     n.get,
			},
			"note_list": {
				Name:        "note_list",
				Description: "List all note keys for this conversation",
				InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
				Execute:     n.list,
			},
		}
	}
}

type notes struct {
	store        store.Store
	conversation string
}

type note struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (n *notes) key(name string) string {
	return n.conversation + "/" + name
}

func (n *notes) set(ctx context.Context, args json.RawMessage) (any, error) {
	var in note
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	err = n.store.Create(ctx, &store.Record{
		PrimaryKey:   n.key(in.Key),
		SecondaryKey: n.conversation,
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("saving note: %w", err)
	}
	return fmt.Sprintf("saved note %q", in.Key), nil
}

func (n *notes) get(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	rec, err := n.store.GetByID(ctx, n.key(in.Key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no note named %q", in.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading note: %w", err)
	}
	var stored note
	if err := json.Unmarshal(rec.Payload, &stored); err != nil {
		return nil, fmt.Errorf("decoding note: %w", err)
	}
	return stored.Value, nil
}

func (n *notes) list(ctx context.Context, args json.RawMessage) (any, error) {
	records, err := n.store.List(ctx, n.conversation, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	keys := make([]string, 0, len(records))
	for _, rec := range records {
		var stored note
		if err := json.Unmarshal(rec.Payload, &stored); err != nil {
			continue
		}
		keys = append(keys, stored.Key)
	}
	return keys, nil
}
