package geminibot

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"log/slog"
	"sync"
	"time"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// ModelUnixTime is an embeddable model with Unix timestamps for
// creation, update, and deletion.
type ModelUnixTime struct {
	CreatedAt int64          `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64          `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

type ModelStringID struct {
	ID string `gorm:"primaryKey" json:"id"`
}

type ModelUintID struct {
	ID uint `gorm:"primaryKey" json:"id"`
}

// ChatSession is one channel's (or thread's) persisted conversation.
// The record ID is the Discord channel or thread ID. The template itself
// is never persisted; only the turns exchanged after it, plus an optional
// persona override set via /forget.
type ChatSession struct {
	ModelStringID
	ModelUnixTime

	// Persona overrides the default bot template for this channel.
	// Empty means the default template applies.
	Persona string `json:"persona"`

	// Turns is the channel's history, in arrival order. Text only:
	// media exchanges are never persisted.
	Turns []ChatTurn `json:"turns" gorm:"foreignKey:ChatSessionID;references:ID"`
}

func (s ChatSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID),
		slog.String("persona", s.Persona),
		slog.Int("turns", len(s.Turns)),
	)
}

// ChatTurn is a single stored turn of a ChatSession. Append ordering
// follows the autoincrement ID.
type ChatTurn struct {
	ModelUintID
	ModelUnixTime
	ChatSessionID string `json:"chat_session_id" gorm:"index"`
	Role          string `json:"role"`
	Content       string `json:"content"`
}

// TrackedThread marks a thread in which the bot responds to every
// message, not only mentions.
type TrackedThread struct {
	ModelStringID
	ModelUnixTime
	Name string `json:"name"`
}

// Store is the persistence contract for conversation state. The bot
// process is the store's only writer, so implementations only need
// single-process safety.
type Store interface {
	// GetSession returns the session for the given scope, or nil if the
	// scope has no stored session.
	GetSession(ctx context.Context, scope string) (*ChatSession, error)

	// AppendTurns appends the given turns to the scope's history, in
	// order, creating the session record if it doesn't exist yet.
	AppendTurns(ctx context.Context, scope string, turns ...Turn) error

	// SetPersona records a persona override for the scope, creating the
	// session record if needed.
	SetPersona(ctx context.Context, scope string, persona string) error

	// DeleteSession removes the scope's session and all of its turns.
	// Deleting an absent session is not an error.
	DeleteSession(ctx context.Context, scope string) error

	// TrackedThreads returns the IDs of all tracked threads.
	TrackedThreads(ctx context.Context) ([]string, error)

	// AddTrackedThread registers a thread the bot should always respond in.
	AddTrackedThread(ctx context.Context, threadID string, name string) error
}

// database implements Store on a GORM sqlite connection. Writes are
// serialized with a mutex, since sqlite is run with a single connection.
type database struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// NewStore wraps an open GORM connection as a Store.
func NewStore(db *gorm.DB, log *slog.Logger) Store {
	if log == nil {
		log = slog.Default()
	}
	return &database{
		db:     db,
		logger: log.With(loggerNameKey, "store"),
	}
}

func (d *database) GetSession(
	ctx context.Context,
	scope string,
) (*ChatSession, error) {
	var session ChatSession
	err := d.db.WithContext(ctx).Preload(
		"Turns",
		func(db *gorm.DB) *gorm.DB {
			return db.Order("chat_turns.id ASC")
		},
	).Where("id = ?", scope).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error loading session %s: %w", scope, err)
	}
	return &session, nil
}

func (d *database) AppendTurns(
	ctx context.Context,
	scope string,
	turns ...Turn,
) error {
	if len(turns) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			session := ChatSession{ModelStringID: ModelStringID{ID: scope}}
			if err := tx.FirstOrCreate(
				&session,
				ChatSession{ModelStringID: ModelStringID{ID: scope}},
			).Error; err != nil {
				return fmt.Errorf("error creating session %s: %w", scope, err)
			}
			for _, turn := range turns {
				rec := ChatTurn{
					ChatSessionID: scope,
					Role:          string(turn.Role),
					Content:       turn.Text(),
				}
				if err := tx.Create(&rec).Error; err != nil {
					return fmt.Errorf("error appending turn: %w", err)
				}
			}
			return nil
		},
	)
}

func (d *database) SetPersona(
	ctx context.Context,
	scope string,
	persona string,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	session := ChatSession{ModelStringID: ModelStringID{ID: scope}}
	if err := d.db.WithContext(ctx).FirstOrCreate(
		&session,
		ChatSession{ModelStringID: ModelStringID{ID: scope}},
	).Error; err != nil {
		return fmt.Errorf("error creating session %s: %w", scope, err)
	}
	if err := d.db.WithContext(ctx).Model(&session).Update(
		"persona",
		persona,
	).Error; err != nil {
		return fmt.Errorf("error setting persona for %s: %w", scope, err)
	}
	return nil
}

func (d *database) DeleteSession(ctx context.Context, scope string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.db.WithContext(ctx).Transaction(
		func(tx *gorm.DB) error {
			if err := tx.Unscoped().Where(
				"chat_session_id = ?", scope,
			).Delete(&ChatTurn{}).Error; err != nil {
				return fmt.Errorf("error deleting turns for %s: %w", scope, err)
			}
			if err := tx.Unscoped().Where(
				"id = ?", scope,
			).Delete(&ChatSession{}).Error; err != nil {
				return fmt.Errorf("error deleting session %s: %w", scope, err)
			}
			return nil
		},
	)
}

func (d *database) TrackedThreads(ctx context.Context) ([]string, error) {
	var threads []TrackedThread
	if err := d.db.WithContext(ctx).Find(&threads).Error; err != nil {
		return nil, fmt.Errorf("error loading tracked threads: %w", err)
	}
	ids := make([]string, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

func (d *database) AddTrackedThread(
	ctx context.Context,
	threadID string,
	name string,
) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	thread := TrackedThread{
		ModelStringID: ModelStringID{ID: threadID},
		Name:          name,
	}
	if err := d.db.WithContext(ctx).FirstOrCreate(
		&thread,
		TrackedThread{ModelStringID: ModelStringID{ID: threadID}},
	).Error; err != nil {
		return fmt.Errorf("error tracking thread %s: %w", threadID, err)
	}
	return nil
}

// openDatabase opens (creating if necessary) the sqlite database at the
// given path, applies connection pragmas and runs migrations.
func openDatabase(
	ctx context.Context,
	path string,
	handler slog.Handler,
	slowThreshold time.Duration,
) (*gorm.DB, error) {
	db, err := gorm.Open(
		sqlite.Open(path),
		&gorm.Config{
			Logger: newGORMLogger(handler, slowThreshold),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("error opening database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error getting database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
	sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
	sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

	for _, pragma := range sqliteExecPragma {
		if err = db.WithContext(ctx).Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error executing %q: %w", pragma, err)
		}
	}

	if err = db.WithContext(ctx).AutoMigrate(
		&ChatSession{},
		&ChatTurn{},
		&TrackedThread{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return db, nil
}
