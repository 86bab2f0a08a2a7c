package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/advatar/carechain/internal/store/postgres"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database postgres.Config
	Chain    ChainConfig
	Export   ExportConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// ChainConfig tunes the version-chain engine.
type ChainConfig struct {
	Granularity   string
	MaxRepairHops int
}

// ExportConfig holds export job settings.
type ExportConfig struct {
	Directory string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string
	Pretty bool
}

// Default returns the configuration used when no file or env overrides are
// present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Database: postgres.DefaultConfig(),
		Chain: ChainConfig{
			Granularity:   "day",
			MaxRepairHops: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Load reads config.yaml from configPath, with environment overrides mapped
// through the CARECHAIN prefix (e.g. CARECHAIN_DATABASE_HOST).
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CARECHAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindEnv("server.addr")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("chain.granularity")
	v.BindEnv("chain.max_repair_hops")
	v.BindEnv("export.directory")
	v.BindEnv("log.level")

	// Config file is optional; defaults plus env overrides are enough to run.
	_ = v.ReadInConfig()

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("chain.granularity") {
		cfg.Chain.Granularity = v.GetString("chain.granularity")
	}
	if v.IsSet("chain.max_repair_hops") {
		cfg.Chain.MaxRepairHops = v.GetInt("chain.max_repair_hops")
	}
	if v.IsSet("export.directory") {
		cfg.Export.Directory = v.GetString("export.directory")
	}
	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.pretty") {
		cfg.Log.Pretty = v.GetBool("log.pretty")
	}

	return cfg, nil
}
