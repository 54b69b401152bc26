package geminibot

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultErrorLog, cfg.ErrorLog)
	assert.Equal(t, DefaultReplyChunkLength, cfg.ReplyChunkLength)
	assert.LessOrEqual(t, cfg.ReplyChunkLength, discordMaxMessageLength)

	require.NotNil(t, cfg.Gemini)
	assert.Equal(t, DefaultTextModel, cfg.Gemini.Text.Model)
	assert.Equal(t, float32(0.9), cfg.Gemini.Text.Temperature)
	assert.Equal(t, float32(1), cfg.Gemini.Text.TopK)
	assert.Equal(t, DefaultMediaModel, cfg.Gemini.Media.Model)
	assert.Equal(t, float32(0.4), cfg.Gemini.Media.Temperature)
	assert.Equal(t, float32(32), cfg.Gemini.Media.TopK)
	assert.Equal(
		t,
		int32(DefaultMaxOutputTokens),
		cfg.Gemini.Text.MaxOutputTokens,
	)
	assert.Equal(t, HarmBlockNone, cfg.Gemini.Safety.Harassment)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, DefaultDiscordGatewayIntent, cfg.Discord.GatewayIntents)
	assert.Equal(t, DefaultDiscordCustomStatus, cfg.Discord.CustomStatus)
}

func TestConfigValidate(t *testing.T) {
	t.Run(
		"valid config", func(t *testing.T) {
			cfg := newTestConfig(t)
			assert.NoError(t, cfg.Validate())
		},
	)

	t.Run(
		"missing discord token", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Discord.Token = ""
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"missing application id", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Discord.ApplicationID = ""
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"missing gemini api key", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Gemini.APIKey = ""
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"nil discord config", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Discord = nil
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"nil gemini config", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Gemini = nil
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"reply chunk length above the discord cap", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.ReplyChunkLength = discordMaxMessageLength + 1
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"invalid safety level", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Gemini.Safety.Harassment = "extreme"
			assert.Error(t, cfg.Validate())
		},
	)

	t.Run(
		"valid template", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Gemini.Template = []TemplateTurn{
				{Role: "user", Text: "You are a helpful assistant."},
				{Role: "model", Text: "Understood."},
			}
			assert.NoError(t, cfg.Validate())
		},
	)

	t.Run(
		"invalid template role", func(t *testing.T) {
			cfg := newTestConfig(t)
			cfg.Gemini.Template = []TemplateTurn{
				{Role: "narrator", Text: "hello"},
			}
			assert.Error(t, cfg.Validate())
		},
	)
}

func TestConfigLogValueRedactsSecrets(t *testing.T) {
	cfg := newTestConfig(t)

	logged := cfg.Gemini.LogValue().String()
	assert.NotContains(t, logged, "test-api-key")
	assert.Contains(t, logged, "[redacted]")

	logged = cfg.Discord.LogValue().String()
	assert.NotContains(t, logged, "test-token")
	assert.Contains(t, logged, "[redacted]")
}
