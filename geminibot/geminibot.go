package geminibot

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/EnArvy/Discord-Gemini-Chatbot/geminibot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// GeminiBot is the main application struct: it wires the Discord
// gateway to the Gemini API, with per-channel conversation history
// persisted in sqlite.
type GeminiBot struct {
	config *Config

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// GORM connection backing the session store
	db *gorm.DB

	// Durable per-channel conversation state
	store Store

	// Builds turn lists and commits exchanges
	contextManager *ContextManager

	// Handles Gemini API integration
	gemini *Gemini

	// Downloads and converts message attachments
	attachments *AttachmentPreprocessor

	// Handles discord integration, sessions
	discord *Discord

	// Append-only log of generation failures
	errorLog *ErrorLog

	// Threads the bot responds to unconditionally, loaded from the
	// store on startup and extended via /createthread
	trackedThreads map[string]struct{}
	trackedMu      sync.RWMutex

	messagesHandled atomic.Int64

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// A value is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// The time Run was called
	startedAt time.Time
}

// New validates the config and creates a GeminiBot. No network
// connections or files are opened until Run is called.
func New(config *Config) (*GeminiBot, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logHandler := newLogHandler(defaultLogWriter, config.LogLevel)
	logger := slog.New(logHandler).With(loggerNameKey, "geminibot")

	bot := &GeminiBot{
		config:         config,
		logger:         logger,
		logHandler:     logHandler,
		trackedThreads: map[string]struct{}{},
		signalStop:     make(chan struct{}, 1),
		eventShutdown:  make(chan struct{}, 1),
	}
	bot.errorLog = NewErrorLog(config.ErrorLog, logger)

	if config.HTTPClient != nil {
		config.Discord.httpClient = config.HTTPClient
	}
	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = slog.New(
		newLogHandler(defaultLogWriter, config.Discord.LogLevel),
	).With(loggerNameKey, "discord")
	discord.bot = bot
	bot.discord = discord

	bot.attachments = NewAttachmentPreprocessor(config.HTTPClient, logger)
	return bot, nil
}

// Run starts the bot and blocks until the context is canceled or Stop
// is called, then shuts down gracefully. Initialization is bounded by
// [Config.StartupTimeout]; persistence being unavailable is fatal.
func (b *GeminiBot) Run(ctx context.Context) error {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	b.startedAt = time.Now()

	startupCtx, cancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer cancel()

	db, err := openDatabase(
		startupCtx,
		b.config.Database,
		newLogHandler(defaultLogWriter, b.config.DatabaseLogLevel),
		b.config.DatabaseSlowThreshold,
	)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	b.db = db
	b.store = NewStore(db, b.logger)
	b.contextManager = NewContextManager(
		b.store,
		templateTurns(b.config.Gemini.Template),
		b.logger,
	)

	gemini, err := newGemini(
		startupCtx,
		b.config.Gemini,
		newLogHandler(defaultLogWriter, b.config.Gemini.LogLevel),
		b.errorLog,
		b.config.HTTPClient,
	)
	if err != nil {
		return err
	}
	b.gemini = gemini

	threads, err := b.store.TrackedThreads(startupCtx)
	if err != nil {
		return err
	}
	for _, id := range threads {
		b.trackThread(id)
	}

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	discordgo.Logger = discordgoLoggerFunc(
		ctx,
		newLogHandler(defaultLogWriter, b.config.Discord.DiscordGoLogLevel),
	)

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(b.discord.handlerReady()),
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(b.handlerMessageCreate(ctx)),
		session.AddHandler(b.handlerInteractionCreate(ctx)),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	if _, err = b.discord.registerCommands(); err != nil {
		_ = session.Close()
		return fmt.Errorf("error registering commands: %w", err)
	}

	b.logger.Info(
		"bot is ready",
		"version", Version,
		"tracked_threads", len(threads),
	)

	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, shutting down")
	case <-b.signalStop:
		b.logger.Info("stop signal received, shutting down")
	}
	return b.shutdown()
}

// Stop signals a running bot to shut down.
func (b *GeminiBot) Stop() {
	select {
	case b.signalStop <- struct{}{}:
	default:
	}
}

// shutdown closes the discord session and the database, bounded by
// [Config.ShutdownTimeout].
func (b *GeminiBot) shutdown() error {
	defer func() {
		select {
		case b.eventShutdown <- struct{}{}:
		default:
		}
	}()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, remove := range b.discord.discordgoRemoveHandlerFuncs {
			remove()
		}
		if b.discord.session != nil {
			if err := b.discord.session.Close(); err != nil {
				errs = append(
					errs,
					fmt.Errorf("error closing discord session: %w", err),
				)
			}
		}
		if b.db != nil {
			if sqlDB, err := b.db.DB(); err == nil {
				if err = sqlDB.Close(); err != nil {
					errs = append(
						errs,
						fmt.Errorf("error closing database: %w", err),
					)
				}
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		b.logger.Info("shutdown complete", "uptime", time.Since(b.startedAt))
		return err
	case <-time.After(b.config.ShutdownTimeout):
		return fmt.Errorf(
			"shutdown timed out after %s",
			b.config.ShutdownTimeout,
		)
	}
}

func (b *GeminiBot) trackThread(threadID string) {
	b.trackedMu.Lock()
	defer b.trackedMu.Unlock()
	b.trackedThreads[threadID] = struct{}{}
}

func (b *GeminiBot) threadTracked(threadID string) bool {
	b.trackedMu.RLock()
	defer b.trackedMu.RUnlock()
	_, ok := b.trackedThreads[threadID]
	return ok
}
