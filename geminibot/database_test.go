package geminibot

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
)

func newTestStore(t testing.TB, path string) (Store, *gorm.DB) {
	t.Helper()
	db, err := openDatabase(
		context.Background(),
		path,
		newLogHandler(io.Discard, slog.LevelWarn),
		DefaultDatabaseSlowThreshold,
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		},
	)
	return NewStore(db, nil), db
}

func TestStoreGetSessionAbsent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))

	session, err := store.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestStoreAppendTurnsOrdering(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))

	require.NoError(
		t,
		store.AppendTurns(
			ctx,
			"channel-1",
			NewTextTurn(RoleUser, "first question"),
			NewTextTurn(RoleModel, "first answer"),
		),
	)
	require.NoError(
		t,
		store.AppendTurns(
			ctx,
			"channel-1",
			NewTextTurn(RoleUser, "second question"),
			NewTextTurn(RoleModel, "second answer"),
		),
	)

	session, err := store.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	require.Len(t, session.Turns, 4)

	contents := make([]string, 0, len(session.Turns))
	roles := make([]string, 0, len(session.Turns))
	for _, turn := range session.Turns {
		contents = append(contents, turn.Content)
		roles = append(roles, turn.Role)
	}
	assert.Equal(
		t,
		[]string{
			"first question",
			"first answer",
			"second question",
			"second answer",
		},
		contents,
	)
	assert.Equal(
		t,
		[]string{
			string(RoleUser),
			string(RoleModel),
			string(RoleUser),
			string(RoleModel),
		},
		roles,
	)
}

func TestStoreScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))

	require.NoError(
		t,
		store.AppendTurns(ctx, "channel-1", NewTextTurn(RoleUser, "one")),
	)
	require.NoError(
		t,
		store.AppendTurns(ctx, "channel-2", NewTextTurn(RoleUser, "two")),
	)

	first, err := store.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Len(t, first.Turns, 1)
	assert.Equal(t, "one", first.Turns[0].Content)

	second, err := store.GetSession(ctx, "channel-2")
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Len(t, second.Turns, 1)
	assert.Equal(t, "two", second.Turns[0].Content)
}

func TestStoreSetPersona(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))

	require.NoError(t, store.SetPersona(ctx, "channel-1", "a grumpy pirate"))

	session, err := store.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a grumpy pirate", session.Persona)
	assert.Empty(t, session.Turns)

	require.NoError(t, store.SetPersona(ctx, "channel-1", "a kind librarian"))
	session, err = store.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "a kind librarian", session.Persona)
}

func TestStoreDeleteSession(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))

	require.NoError(
		t,
		store.AppendTurns(
			ctx,
			"channel-1",
			NewTextTurn(RoleUser, "hello"),
			NewTextTurn(RoleModel, "hi"),
		),
	)

	require.NoError(t, store.DeleteSession(ctx, "channel-1"))

	session, err := store.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	assert.Nil(t, session)

	// deleting an absent session isn't an error
	require.NoError(t, store.DeleteSession(ctx, "channel-1"))
}

func TestStoreTrackedThreads(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, filepath.Join(t.TempDir(), "test.sqlite3"))

	threads, err := store.TrackedThreads(ctx)
	require.NoError(t, err)
	assert.Empty(t, threads)

	require.NoError(t, store.AddTrackedThread(ctx, "thread-1", "chitchat"))
	require.NoError(t, store.AddTrackedThread(ctx, "thread-2", "support"))
	// adding an already tracked thread is idempotent
	require.NoError(t, store.AddTrackedThread(ctx, "thread-1", "chitchat"))

	threads, err = store.TrackedThreads(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"thread-1", "thread-2"}, threads)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.sqlite3")

	store, db := newTestStore(t, path)
	require.NoError(
		t,
		store.AppendTurns(
			ctx,
			"channel-1",
			NewTextTurn(RoleUser, "remember me"),
			NewTextTurn(RoleModel, "I will"),
		),
	)
	require.NoError(t, store.SetPersona(ctx, "channel-1", "an elephant"))
	require.NoError(t, store.AddTrackedThread(ctx, "thread-1", "chitchat"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	reopened, _ := newTestStore(t, path)

	session, err := reopened.GetSession(ctx, "channel-1")
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "an elephant", session.Persona)
	require.Len(t, session.Turns, 2)
	assert.Equal(t, "remember me", session.Turns[0].Content)
	assert.Equal(t, "I will", session.Turns[1].Content)

	threads, err := reopened.TrackedThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"thread-1"}, threads)
}
