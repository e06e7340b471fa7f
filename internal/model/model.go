// ABOUTME: Core value types shared across the gateway: model URIs, JSON-Patch
// ABOUTME: operations, commands, and the update-result aggregation monoid.

package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/wI2L/jsondiff"
)

// ModelURI is the normalized identifier of a model. Two URIs refer to the same
// model iff their normalized string forms are equal.
type ModelURI string

// NewModelURI normalizes a raw model URI. Scheme and host are lowercased and a
// trailing slash is dropped; a string that does not parse as a URL is kept
// verbatim (minus surrounding whitespace).
func NewModelURI(raw string) ModelURI {
	s := strings.TrimSpace(raw)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return ModelURI(strings.TrimSuffix(s, "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return ModelURI(u.String())
}

func (m ModelURI) String() string {
	return string(m)
}

// Operation is a single JSON-Patch operation.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// Command is an opaque structured edit operation. The gateway interprets only
// its type tag; everything else is carried through to Upstream untouched.
type Command map[string]any

// Type returns the command's type tag, or "" when absent.
func (c Command) Type() string {
	t, _ := c["type"].(string)
	return t
}

// Type discriminators for the two edit payload kinds on the wire.
const (
	KindCommand = "modelserver.emfcommand"
	KindPatch   = "modelserver.patch"
)

// CommandOrPatch is the tagged payload of an execute message: exactly one of
// Command and Patch is set.
type CommandOrPatch struct {
	Command Command
	Patch   []Operation
}

// FromCommand wraps a command as an execute payload.
func FromCommand(cmd Command) CommandOrPatch {
	return CommandOrPatch{Command: cmd}
}

// FromPatch wraps a patch as an execute payload.
func FromPatch(ops []Operation) CommandOrPatch {
	return CommandOrPatch{Patch: ops}
}

// IsPatch reports whether the payload carries a patch rather than a command.
func (c CommandOrPatch) IsPatch() bool {
	return c.Command == nil
}

type commandOrPatchJSON struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders the wire form {type: <discriminator>, data: <payload>}.
func (c CommandOrPatch) MarshalJSON() ([]byte, error) {
	var (
		kind string
		data any
	)
	if c.IsPatch() {
		kind, data = KindPatch, c.Patch
	} else {
		kind, data = KindCommand, c.Command
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(commandOrPatchJSON{Type: kind, Data: raw})
}

// UnmarshalJSON parses the wire form, accepting a single operation object in
// place of an operation array for the patch kind.
func (c *CommandOrPatch) UnmarshalJSON(b []byte) error {
	var wire commandOrPatchJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case KindCommand:
		var cmd Command
		if err := json.Unmarshal(wire.Data, &cmd); err != nil {
			return err
		}
		*c = CommandOrPatch{Command: cmd}
		return nil
	case KindPatch:
		var ops []Operation
		if err := json.Unmarshal(wire.Data, &ops); err != nil {
			var single Operation
			if err2 := json.Unmarshal(wire.Data, &single); err2 != nil {
				return err
			}
			ops = []Operation{single}
		}
		*c = CommandOrPatch{Patch: ops}
		return nil
	default:
		return fmt.Errorf("unknown edit payload type %q", wire.Type)
	}
}

// ModelUpdateResult is the value returned from every edit and the element of
// the aggregation monoid used by transaction frames.
type ModelUpdateResult struct {
	Success    bool        `json:"success"`
	Patch      []Operation `json:"patch,omitempty"`
	PatchModel any         `json:"patchModel,omitempty"`
}

// NewAggregate returns the identity element of the aggregation: successful,
// with an empty patch.
func NewAggregate() ModelUpdateResult {
	return ModelUpdateResult{Success: true, Patch: []Operation{}}
}

// Merge folds next into r: success is ANDed, patches concatenate in order, and
// patchModel takes the later non-nil value only while the running success
// stays true.
func (r *ModelUpdateResult) Merge(next ModelUpdateResult) {
	r.Success = r.Success && next.Success
	r.Patch = append(r.Patch, next.Patch...)
	if r.Success && next.PatchModel != nil {
		r.PatchModel = next.PatchModel
	}
}

// DiffPatch computes the JSON-Patch operations that transform the model
// snapshot before into after. Trigger providers that reason over whole-model
// state use this to produce the delta they hand back.
func DiffPatch(before, after []byte) ([]Operation, error) {
	patch, err := jsondiff.CompareJSON(before, after)
	if err != nil {
		return nil, fmt.Errorf("diffing model snapshots: %w", err)
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	var ops []Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}
