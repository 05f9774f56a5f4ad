package config

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	sslModeDisable = "disable"
	sslModeRequire = "require"

	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type (
	Config struct {
		Host       string `mapstructure:"HOST"`
		Port       string `mapstructure:"PORT"`
		Env        string `mapstructure:"ENV"`
		DBHost     string `mapstructure:"DB_HOST"`
		DBPort     string `mapstructure:"DB_PORT"`
		DBUser     string `mapstructure:"DB_USER"`
		DBPassword string `mapstructure:"DB_PASSWORD"`
		DBName     string `mapstructure:"DB_NAME"`
		DBSSLMode  string `mapstructure:"DB_SSL_MODE"`
		JWTSecret  string `mapstructure:"JWT_SECRET"`
		CORSOrigin string `mapstructure:"CORS_ORIGIN"`
	}
)

func NewConfig() (*Config, error) {
	viper.SetEnvPrefix("LINKSTASH")

	viper.SetDefault("HOST", "0.0.0.0")
	viper.SetDefault("PORT", "4000")
	viper.SetDefault("ENV", EnvDevelopment)
	viper.SetDefault("DB_HOST", "0.0.0.0")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "db")
	viper.SetDefault("DB_SSL_MODE", sslModeDisable)
	viper.SetDefault("JWT_SECRET", "dev-secret-change-me")
	viper.SetDefault("CORS_ORIGIN", "http://localhost:5173")

	envs := []string{"HOST", "PORT", "ENV", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSL_MODE", "JWT_SECRET", "CORS_ORIGIN"}
	for _, key := range envs {
		if err := viper.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

func validate(cfg *Config) error {
	validSSLValues := []string{sslModeDisable, sslModeRequire}
	sslValid := false
	for _, validValue := range validSSLValues {
		if cfg.DBSSLMode == validValue {
			sslValid = true
			break
		}
	}
	if !sslValid {
		return errors.New(fmt.Sprintf("DB SSL mode is invalid: %s", cfg.DBSSLMode))
	}

	if cfg.Env != EnvDevelopment && cfg.Env != EnvProduction {
		return errors.New(fmt.Sprintf("ENV is invalid: %s", cfg.Env))
	}

	if cfg.JWTSecret == "" {
		return errors.New("JWT secret must not be empty")
	}

	return nil
}
