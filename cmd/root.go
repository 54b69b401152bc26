package cmd

import (
	"context"
	"fmt"
	"github.com/EnArvy/Discord-Gemini-Chatbot/geminibot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = geminibot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "geminibot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", geminibot.DefaultDatabase)
	viper.SetDefault(
		"database_slow_threshold",
		geminibot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		geminibot.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("error_log", geminibot.DefaultErrorLog)

	viper.SetDefault("log_level", geminibot.DefaultLogLevel.String())
	viper.SetDefault("reply_chunk_length", geminibot.DefaultReplyChunkLength)

	viper.SetDefault("startup_timeout", geminibot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", geminibot.DefaultShutdownTimeout)

	// Gemini config
	viper.SetDefault("gemini.log_level", geminibot.DefaultGeminiLogLevel.String())
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault(
		"gemini.max_requests_per_second",
		geminibot.DefaultGeminiMaxRequestsPerSecond,
	)
	viper.SetDefault("gemini.text.model", geminibot.DefaultTextModel)
	viper.SetDefault("gemini.text.temperature", 0.9)
	viper.SetDefault("gemini.text.top_p", 1)
	viper.SetDefault("gemini.text.top_k", 1)
	viper.SetDefault(
		"gemini.text.max_output_tokens",
		geminibot.DefaultMaxOutputTokens,
	)
	viper.SetDefault("gemini.media.model", geminibot.DefaultMediaModel)
	viper.SetDefault("gemini.media.temperature", 0.4)
	viper.SetDefault("gemini.media.top_p", 1)
	viper.SetDefault("gemini.media.top_k", 32)
	viper.SetDefault(
		"gemini.media.max_output_tokens",
		geminibot.DefaultMaxOutputTokens,
	)
	viper.SetDefault("gemini.safety.harassment", string(geminibot.HarmBlockNone))
	viper.SetDefault("gemini.safety.hate_speech", string(geminibot.HarmBlockNone))
	viper.SetDefault(
		"gemini.safety.sexually_explicit",
		string(geminibot.HarmBlockNone),
	)
	viper.SetDefault(
		"gemini.safety.dangerous_content",
		string(geminibot.HarmBlockNone),
	)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.custom_status", geminibot.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.log_level",
		geminibot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		geminibot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		geminibot.DefaultDiscordGatewayIntent,
	)

	envPrefix := os.Getenv(geminibot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = geminibot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"gemini.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to use",
	)
}
