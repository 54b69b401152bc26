package geminibot

import (
	"context"
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"path/filepath"
	"testing"
)

func newTestContextManager(t testing.TB, template []Turn) *ContextManager {
	t.Helper()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))
	return NewContextManager(store, template, nil)
}

func TestBuildRequestFreshScope(t *testing.T) {
	ctx := context.Background()
	template := []Turn{
		NewTextTurn(RoleUser, "You are a helpful assistant."),
		NewTextTurn(RoleModel, "Understood."),
	}
	cm := newTestContextManager(t, template)

	userTurn := NewTextTurn(RoleUser, "hello")
	turns, err := cm.BuildRequest(ctx, "channel-1", userTurn)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, template[0], turns[0])
	assert.Equal(t, template[1], turns[1])
	assert.Equal(t, userTurn, turns[2])
}

func TestBuildRequestIncludesHistory(t *testing.T) {
	ctx := context.Background()
	cm := newTestContextManager(t, nil)

	first := NewTextTurn(RoleUser, "first question")
	require.NoError(
		t,
		cm.Commit(ctx, "channel-1", first, NewTextTurn(RoleModel, "first answer")),
	)

	next := NewTextTurn(RoleUser, "second question")
	turns, err := cm.BuildRequest(ctx, "channel-1", next)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "first question", turns[0].Text())
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "first answer", turns[1].Text())
	assert.Equal(t, RoleModel, turns[1].Role)
	assert.Equal(t, next, turns[2])
}

func TestCommitSkipsMediaExchanges(t *testing.T) {
	ctx := context.Background()
	cm := newTestContextManager(t, nil)

	mediaTurn := Turn{
		Role: RoleUser,
		Parts: []Part{
			MediaPart("image/png", []byte("png-bytes")),
			TextPart("what is this?"),
		},
	}
	require.NoError(
		t,
		cm.Commit(
			ctx,
			"channel-1",
			mediaTurn,
			NewTextTurn(RoleModel, "a picture"),
		),
	)

	turns, err := cm.BuildRequest(
		ctx,
		"channel-1",
		NewTextTurn(RoleUser, "next"),
	)
	require.NoError(t, err)
	require.Len(t, turns, 1, "media exchange should not be persisted")
	assert.Equal(t, "next", turns[0].Text())
}

func TestResetClearsHistory(t *testing.T) {
	ctx := context.Background()
	cm := newTestContextManager(t, nil)

	require.NoError(
		t,
		cm.Commit(
			ctx,
			"channel-1",
			NewTextTurn(RoleUser, "hello"),
			NewTextTurn(RoleModel, "hi"),
		),
	)

	require.NoError(t, cm.Reset(ctx, "channel-1", ""))

	turns, err := cm.BuildRequest(
		ctx,
		"channel-1",
		NewTextTurn(RoleUser, "fresh start"),
	)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestResetWithPersonaSeedsNextRequest(t *testing.T) {
	ctx := context.Background()
	template := []Turn{
		NewTextTurn(RoleUser, "You are a helpful assistant."),
		NewTextTurn(RoleModel, "Understood."),
	}
	cm := newTestContextManager(t, template)

	require.NoError(
		t,
		cm.Commit(
			ctx,
			"channel-1",
			NewTextTurn(RoleUser, "hello"),
			NewTextTurn(RoleModel, "hi"),
		),
	)

	require.NoError(t, cm.Reset(ctx, "channel-1", "a grumpy pirate"))

	userTurn := NewTextTurn(RoleUser, "who are you?")
	turns, err := cm.BuildRequest(ctx, "channel-1", userTurn)
	require.NoError(t, err)

	// template, persona seed exchange, then the new user turn
	require.Len(t, turns, 5)
	assert.Equal(t, template[0], turns[0])
	assert.Equal(t, template[1], turns[1])
	assert.Equal(
		t,
		fmt.Sprintf(personaSeedFormat, "a grumpy pirate"),
		turns[2].Text(),
	)
	assert.Equal(t, RoleUser, turns[2].Role)
	assert.Equal(t, personaSeedAck, turns[3].Text())
	assert.Equal(t, RoleModel, turns[3].Role)
	assert.Equal(t, userTurn, turns[4])
}

func TestResetPersonaDoesNotLeakAcrossScopes(t *testing.T) {
	ctx := context.Background()
	cm := newTestContextManager(t, nil)

	require.NoError(t, cm.Reset(ctx, "channel-1", "a grumpy pirate"))

	turns, err := cm.BuildRequest(
		ctx,
		"channel-2",
		NewTextTurn(RoleUser, "hello"),
	)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}
