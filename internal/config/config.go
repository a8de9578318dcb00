package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Log struct {
		Level string
	}
	Store struct {
		// Backend is one of memory, file, sqlite, postgres.
		Backend string
		Dir     string
	}
	Database struct {
		Path string
		DSN  string
	}
	Download struct {
		DataDir       string
		MaxConcurrent int
	}
	Storage struct {
		Bucket   string
		Region   string
		Endpoint string
	}
	AWS struct {
		Profile string
	}
	Auth struct {
		JWTSecret string
	}
	Player struct {
		Binary     string
		SocketPath string
		Quality    string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	return load(".")
}

func load(dir string) (Config, error) {
	loadDotEnv(dir + "/.env")

	v := viper.New()
	v.SetEnvPrefix("PITARA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.dir", "data/store")
	v.SetDefault("database.path", "data/pitara.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("download.datadir", "data/downloads")
	v.SetDefault("download.maxconcurrent", 3)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("player.binary", "mpv")
	v.SetDefault("player.socketpath", os.TempDir()+"/pitara-mpv.sock")
	v.SetDefault("player.quality", "720p")

	v.SetConfigName("config")
	v.AddConfigPath(dir)
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch cfg.Store.Backend {
	case "memory", "file", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "postgres" && cfg.Database.DSN == "" {
		return Config{}, fmt.Errorf("database dsn is required for the postgres store")
	}

	return cfg, nil
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
