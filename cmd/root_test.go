package cmd

import (
	"github.com/EnArvy/Discord-Gemini-Chatbot/geminibot"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

func TestInitConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	initConfig()

	assert.Equal(t, geminibot.DefaultDatabase, viper.GetString("database"))
	assert.Equal(
		t,
		geminibot.DefaultReplyChunkLength,
		viper.GetInt("reply_chunk_length"),
	)
	assert.Equal(
		t,
		geminibot.DefaultTextModel,
		viper.GetString("gemini.text.model"),
	)
	assert.Equal(
		t,
		string(geminibot.HarmBlockNone),
		viper.GetString("gemini.safety.harassment"),
	)
	assertLogLevel(t, slog.LevelInfo, viper.Get("log_level"))
	assertLogLevel(t, slog.LevelWarn, viper.Get("discord.log_level"))
}

func TestInitConfigEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("GEMINIBOT_DISCORD_TOKEN", "test-token")
	t.Setenv("GEMINIBOT_GEMINI_API_KEY", "test-key")
	t.Setenv("GEMINIBOT_LOG_LEVEL", "DEBUG")
	t.Setenv("GEMINIBOT_DATABASE", "override.sqlite3")

	initConfig()

	assert.Equal(t, "test-token", viper.GetString("discord.token"))
	assert.Equal(t, "test-key", viper.GetString("gemini.api_key"))
	assert.Equal(t, "override.sqlite3", viper.GetString("database"))
	assertLogLevel(t, slog.LevelDebug, viper.Get("log_level"))
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}
