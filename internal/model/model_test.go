// ABOUTME: Tests for core value types: URI normalization, the payload codec,
// ABOUTME: the update-result merge monoid, and patch diffing.

package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelURI(t *testing.T) {
	t.Run("equal after normalization", func(t *testing.T) {
		assert.Equal(t, NewModelURI("file:/m1"), NewModelURI("file:/m1/"))
		assert.Equal(t, NewModelURI("HTTP://Host/model"), NewModelURI("http://host/model"))
		assert.Equal(t, NewModelURI("  file:/m1 "), NewModelURI("file:/m1"))
	})

	t.Run("distinct models stay distinct", func(t *testing.T) {
		assert.NotEqual(t, NewModelURI("file:/m1"), NewModelURI("file:/m2"))
	})

	t.Run("non-URL strings kept verbatim", func(t *testing.T) {
		assert.Equal(t, ModelURI("just-a-name"), NewModelURI("just-a-name"))
	})
}

func TestCommandOrPatchCodec(t *testing.T) {
	t.Run("command round trip", func(t *testing.T) {
		payload := FromCommand(Command{"type": "set-name", "owner": "x"})
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"modelserver.emfcommand"`)

		var decoded CommandOrPatch
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.False(t, decoded.IsPatch())
		assert.Equal(t, "set-name", decoded.Command.Type())
	})

	t.Run("patch round trip", func(t *testing.T) {
		payload := FromPatch([]Operation{{Op: "replace", Path: "/name", Value: "X"}})
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.Contains(t, string(raw), `"modelserver.patch"`)

		var decoded CommandOrPatch
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.True(t, decoded.IsPatch())
		require.Len(t, decoded.Patch, 1)
		assert.Equal(t, "replace", decoded.Patch[0].Op)
	})

	t.Run("single operation accepted for patch", func(t *testing.T) {
		raw := []byte(`{"type": "modelserver.patch", "data": {"op": "add", "path": "/x", "value": 1}}`)
		var decoded CommandOrPatch
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Len(t, decoded.Patch, 1)
		assert.Equal(t, "add", decoded.Patch[0].Op)
	})

	t.Run("unknown discriminator rejected", func(t *testing.T) {
		raw := []byte(`{"type": "modelserver.unknown", "data": {}}`)
		var decoded CommandOrPatch
		assert.Error(t, json.Unmarshal(raw, &decoded))
	})
}

func TestMerge(t *testing.T) {
	op := func(path string) Operation { return Operation{Op: "replace", Path: path} }

	t.Run("patches concatenate in order and success ANDs", func(t *testing.T) {
		agg := NewAggregate()
		agg.Merge(ModelUpdateResult{Success: true, Patch: []Operation{op("/a")}})
		agg.Merge(ModelUpdateResult{Success: true, Patch: []Operation{op("/b"), op("/c")}})
		assert.True(t, agg.Success)
		require.Len(t, agg.Patch, 3)
		assert.Equal(t, "/a", agg.Patch[0].Path)
		assert.Equal(t, "/b", agg.Patch[1].Path)
		assert.Equal(t, "/c", agg.Patch[2].Path)
	})

	t.Run("failure is sticky but patches still contribute", func(t *testing.T) {
		agg := NewAggregate()
		agg.Merge(ModelUpdateResult{Success: false, Patch: []Operation{op("/a")}})
		agg.Merge(ModelUpdateResult{Success: true, Patch: []Operation{op("/b")}})
		assert.False(t, agg.Success)
		assert.Len(t, agg.Patch, 2)
	})

	t.Run("patchModel taken from later result only while successful", func(t *testing.T) {
		agg := NewAggregate()
		agg.Merge(ModelUpdateResult{Success: true, PatchModel: "m1"})
		agg.Merge(ModelUpdateResult{Success: true, PatchModel: "m2"})
		assert.Equal(t, "m2", agg.PatchModel)

		agg.Merge(ModelUpdateResult{Success: false, PatchModel: "m3"})
		assert.NotEqual(t, "m3", agg.PatchModel, "failed run must not update patchModel")

		agg.Merge(ModelUpdateResult{Success: true, PatchModel: "m4"})
		assert.NotEqual(t, "m4", agg.PatchModel, "success never recovers after a failure")
	})

	t.Run("nil patchModel does not erase earlier value", func(t *testing.T) {
		agg := NewAggregate()
		agg.Merge(ModelUpdateResult{Success: true, PatchModel: "m1"})
		agg.Merge(ModelUpdateResult{Success: true})
		assert.Equal(t, "m1", agg.PatchModel)
	})
}

func TestDiffPatch(t *testing.T) {
	t.Run("produces operations for a change", func(t *testing.T) {
		before := []byte(`{"name": "old", "count": 1}`)
		after := []byte(`{"name": "new", "count": 1}`)

		ops, err := DiffPatch(before, after)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, "replace", ops[0].Op)
		assert.Equal(t, "/name", ops[0].Path)
		assert.Equal(t, "new", ops[0].Value)
	})

	t.Run("identical snapshots yield no operations", func(t *testing.T) {
		snapshot := []byte(`{"name": "same"}`)
		ops, err := DiffPatch(snapshot, snapshot)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("invalid JSON surfaces an error", func(t *testing.T) {
		_, err := DiffPatch([]byte(`{`), []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestEnvelope(t *testing.T) {
	t.Run("builds and parses", func(t *testing.T) {
		env, err := NewEnvelope(MessageExecute, NewModelURI("file:/m1"), FromPatch([]Operation{{Op: "add", Path: "/x", Value: 1}}))
		require.NoError(t, err)

		raw, err := json.Marshal(env)
		require.NoError(t, err)
		parsed, err := ParseEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, MessageExecute, parsed.Type)
		assert.Equal(t, "file:/m1", parsed.ModelURI)
	})

	t.Run("update result from payload", func(t *testing.T) {
		env, err := NewEnvelope(MessageIncrementalUpdate, "file:/m1", ModelUpdateResult{
			Success: true,
			Patch:   []Operation{{Op: "replace", Path: "/name", Value: "X"}},
		})
		require.NoError(t, err)

		result := env.UpdateResult()
		assert.True(t, result.Success)
		require.Len(t, result.Patch, 1)
	})

	t.Run("bare ack derives success from type", func(t *testing.T) {
		success := Envelope{Type: MessageSuccess}
		assert.True(t, success.UpdateResult().Success)

		other := Envelope{Type: "unknown"}
		assert.False(t, other.UpdateResult().Success)
	})
}
