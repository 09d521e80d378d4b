package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Bot    BotConfig
	Server ServerConfig
	Redis  RedisConfig
	Media  MediaConfig
	Limits LimitsConfig
}

type BotConfig struct {
	Token string `validate:"required"`
	// LargeAPIBaseURL points at a self-hosted Bot API server that lifts the
	// standard download cap. Empty disables the large-file path.
	LargeAPIBaseURL string `validate:"omitempty,url"`
}

type ServerConfig struct {
	Port string
	Env  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MediaConfig struct {
	TempDir     string
	FFmpegPath  string `validate:"required"`
	FFprobePath string `validate:"required"`
}

type LimitsConfig struct {
	StandardMaxMB     int64 `validate:"gt=0"`
	ConvertTimeoutSec int   `validate:"gt=0"`
	// MaxRuntimeMin shuts the whole process down after the given uptime.
	// Zero disables the watchdog.
	MaxRuntimeMin int `validate:"gte=0"`
	// DailyMax is the per-user daily conversion allowance. Only enforced
	// when redis is configured.
	DailyMax int `validate:"gte=0"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("media.temp_dir", "")
	viper.SetDefault("media.ffmpeg_path", "ffmpeg")
	viper.SetDefault("media.ffprobe_path", "ffprobe")
	viper.SetDefault("limits.standard_max_mb", 49)
	viper.SetDefault("limits.convert_timeout_sec", 600)
	viper.SetDefault("limits.max_runtime_min", 0)
	viper.SetDefault("limits.daily_max", 200)

	// Flat env names used by deployment
	bindings := map[string]string{
		"bot.token":                  "BOT_TOKEN",
		"bot.large_api_base_url":     "LARGE_API_BASE_URL",
		"server.port":                "SERVER_PORT",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"redis.db":                   "REDIS_DB",
		"media.temp_dir":             "TEMP_DIR",
		"media.ffmpeg_path":          "FFMPEG_PATH",
		"media.ffprobe_path":         "FFPROBE_PATH",
		"limits.standard_max_mb":     "STANDARD_MAX_MB",
		"limits.convert_timeout_sec": "CONVERT_TIMEOUT_SEC",
		"limits.max_runtime_min":     "MAX_RUNTIME_MIN",
		"limits.daily_max":           "DAILY_MAX",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Bot: BotConfig{
			Token:           readSecret("bot.token", "BOT_TOKEN_FILE"),
			LargeAPIBaseURL: viper.GetString("bot.large_api_base_url"),
		},
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
			Env:  viper.GetString("server.env"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Media: MediaConfig{
			TempDir:     viper.GetString("media.temp_dir"),
			FFmpegPath:  viper.GetString("media.ffmpeg_path"),
			FFprobePath: viper.GetString("media.ffprobe_path"),
		},
		Limits: LimitsConfig{
			StandardMaxMB:     viper.GetInt64("limits.standard_max_mb"),
			ConvertTimeoutSec: viper.GetInt("limits.convert_timeout_sec"),
			MaxRuntimeMin:     viper.GetInt("limits.max_runtime_min"),
			DailyMax:          viper.GetInt("limits.daily_max"),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// StandardMaxBytes converts the configured cap to bytes.
func (c *Config) StandardMaxBytes() int64 {
	return c.Limits.StandardMaxMB << 20
}

// readSecret resolves a value either from the named viper key or, when a
// *_FILE companion variable is set, from the file it points at. The file
// form is how Docker secrets are mounted.
func readSecret(key, fileEnv string) string {
	if path := os.Getenv(fileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return viper.GetString(key)
}
