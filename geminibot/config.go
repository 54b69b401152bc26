//nolint:lll // struct tags can't be split
package geminibot

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "GEMINIBOT_ENV_PREFIX"
	DefaultEnvPrefix   = "GEMINIBOT"

	DefaultDatabase              = "geminibot.sqlite3"
	DefaultErrorLog              = "errors.log"
	DefaultLogLevel              = slog.LevelInfo
	DefaultDatabaseLogLevel      = slog.LevelInfo
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultGeminiLogLevel        = slog.LevelInfo
	DefaultDatabaseSlowThreshold = 200 * time.Millisecond

	DefaultStartupTimeout  = 30 * time.Second
	DefaultShutdownTimeout = 60 * time.Second

	// DefaultReplyChunkLength is the maximum size of a single reply message.
	// Discord caps messages at 2000 characters; this leaves headroom.
	DefaultReplyChunkLength = 1700
	discordMaxMessageLength = 2000

	DefaultGeminiMaxRequestsPerSecond = 1
	DefaultTextModel                  = "gemini-2.0-flash"
	DefaultMediaModel                 = "gemini-2.0-flash"
	DefaultMaxOutputTokens            = 512

	DiscordSlashCommandForget       = "forget"
	DiscordSlashCommandCreateThread = "createthread"
	forgetCommandPersonaOption      = "persona"
	createThreadNameOption          = "name"

	DefaultForgetCommandDescription  = "Forget message history"
	DefaultForgetPersonaDescription  = "Persona of bot"
	DefaultCreateThreadDescription   = "Create a thread in which bot will respond to every message."
	DefaultCreateThreadNameOptionDsc = "Thread name"

	DefaultDiscordCustomStatus           = "with your feelings"
	DefaultDiscordErrorMessage           = "An error occurred while processing your message."
	DefaultDiscordCommandErrorMessage    = "An error occurred while processing your command."
	DefaultUnsupportedAttachmentMessage  = "Attachments are of unsupported file types."
	DefaultAttachmentTooLargeMessage     = "Attachments are too large to process."
	DefaultAttachmentFailureMessage      = "An error occurred while processing your attachments."
	DefaultForgetCommandResponse         = "Message history for channel erased."
	DefaultMessageTooLongMessage         = "The message is too long for me to process."
	DefaultDiscordGatewayIntent          = discordgo.IntentsAllWithoutPrivileged | discordgo.IntentMessageContent
	defaultThreadAutoArchiveDuration     = 60
)

// HarmBlockLevel is the sensitivity at which the Gemini API should block
// responses for a single harm category.
type HarmBlockLevel string

const (
	// HarmBlockNone disables blocking for the category.
	HarmBlockNone HarmBlockLevel = "none"

	// HarmBlockLow blocks content classified as low probability or above.
	HarmBlockLow HarmBlockLevel = "low"

	// HarmBlockMedium blocks content classified as medium probability or above.
	HarmBlockMedium HarmBlockLevel = "medium"

	// HarmBlockHigh blocks only content classified as high probability.
	HarmBlockHigh HarmBlockLevel = "high"
)

// SafetyConfig sets a block threshold for each harm category the
// Gemini API can filter on.
type SafetyConfig struct {
	Harassment       HarmBlockLevel `yaml:"harassment" mapstructure:"harassment" json:"harassment" binding:"omitempty,oneof=none low medium high"`
	HateSpeech       HarmBlockLevel `yaml:"hate_speech" mapstructure:"hate_speech" json:"hate_speech" binding:"omitempty,oneof=none low medium high"`
	SexuallyExplicit HarmBlockLevel `yaml:"sexually_explicit" mapstructure:"sexually_explicit" json:"sexually_explicit" binding:"omitempty,oneof=none low medium high"`
	DangerousContent HarmBlockLevel `yaml:"dangerous_content" mapstructure:"dangerous_content" json:"dangerous_content" binding:"omitempty,oneof=none low medium high"`
}

// GenerationProfile holds sampling parameters for a single Gemini model.
// Two profiles are kept: one for text-only requests, one for requests
// carrying inline media.
type GenerationProfile struct {
	Model           string  `yaml:"model" mapstructure:"model" json:"model" binding:"required"`
	Temperature     float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature"`
	TopP            float32 `yaml:"top_p" mapstructure:"top_p" json:"top_p"`
	TopK            float32 `yaml:"top_k" mapstructure:"top_k" json:"top_k"`
	MaxOutputTokens int32   `yaml:"max_output_tokens" mapstructure:"max_output_tokens" json:"max_output_tokens"`
}

// TemplateTurn is a single seed turn of the bot template, as it appears
// in configuration.
type TemplateTurn struct {
	Role string `yaml:"role" mapstructure:"role" json:"role" binding:"required,oneof=user model"`
	Text string `yaml:"text" mapstructure:"text" json:"text" binding:"required"`
}

// GeminiConfig configures Gemini API integration and generation parameters
type GeminiConfig struct {
	// Gemini API key
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]" binding:"required"`

	// Gemini base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Maximum Gemini API requests per second, shared across all channels
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`

	// Text is the generation profile used for text-only requests
	Text GenerationProfile `yaml:"text" mapstructure:"text" json:"text"`

	// Media is the generation profile used for requests with inline media
	// (images, audio, documents)
	Media GenerationProfile `yaml:"media" mapstructure:"media" json:"media"`

	// Safety sets the per-category block thresholds sent with every request
	Safety SafetyConfig `yaml:"safety" mapstructure:"safety" json:"safety"`

	// Template is the seed conversation prepended to every channel's
	// history. Empty by default.
	Template []TemplateTurn `yaml:"template" mapstructure:"template" json:"template" binding:"omitempty,dive"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// CustomStatus is shown as the bot's activity ("Playing ...")
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

type Config struct {
	// Database is the path of the sqlite database holding per-channel
	// conversation history
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// ErrorLog is the path of the append-only error log file. Generation
	// failures are written there with full request detail, for operator
	// diagnosis. Empty disables it.
	ErrorLog string `yaml:"error_log" mapstructure:"error_log" json:"error_log"`

	// Gemini holds the configuration for Gemini API integration
	Gemini *GeminiConfig `yaml:"gemini" mapstructure:"gemini" json:"gemini"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ReplyChunkLength is the maximum length of a single reply message.
	// Longer responses are split into a chain of replies.
	ReplyChunkLength int `yaml:"reply_chunk_length" mapstructure:"reply_chunk_length" json:"reply_chunk_length" binding:"omitempty,min=1,max=2000"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// initialize. If this is passed, the bot will abort startup.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

func (c DiscordConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

func (c GeminiConfig) LogValue() slog.Value {
	return structToSlogValue(c)
}

// Validate checks the config against its binding tags, so missing
// secrets are caught on startup rather than on the first API call.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.SetTagName("binding")
	if c.Discord == nil {
		return fmt.Errorf("discord config is required")
	}
	if c.Gemini == nil {
		return fmt.Errorf("gemini config is required")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DefaultConfig returns a Config with all default settings populated.
// Generation parameters mirror the bot's original tuning: conservative
// sampling for media requests, looser sampling for text.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	geminiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	geminiLogLevel.Set(DefaultGeminiLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		ErrorLog:              DefaultErrorLog,
		LogLevel:              mainLogLevel,
		ReplyChunkLength:      DefaultReplyChunkLength,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Gemini: &GeminiConfig{
			LogLevel:             geminiLogLevel,
			MaxRequestsPerSecond: DefaultGeminiMaxRequestsPerSecond,
			Text: GenerationProfile{
				Model:           DefaultTextModel,
				Temperature:     0.9,
				TopP:            1,
				TopK:            1,
				MaxOutputTokens: DefaultMaxOutputTokens,
			},
			Media: GenerationProfile{
				Model:           DefaultMediaModel,
				Temperature:     0.4,
				TopP:            1,
				TopK:            32,
				MaxOutputTokens: DefaultMaxOutputTokens,
			},
			Safety: SafetyConfig{
				Harassment:       HarmBlockNone,
				HateSpeech:       HarmBlockNone,
				SexuallyExplicit: HarmBlockNone,
				DangerousContent: HarmBlockNone,
			},
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
	}
}
