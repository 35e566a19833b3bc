package config

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects the durable store backing candles and alerts.
type DatabaseConfig struct {
	Driver     string         `mapstructure:"driver"`      // "postgres" or "sqlite"
	SQLitePath string         `mapstructure:"sqlite_path"` // used when driver is sqlite
	CreateDB   bool           `mapstructure:"create_db"`   // create the postgres database on startup
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	// SSM parameter names resolved in the "prod" environment.
	SSMHostParam     string `mapstructure:"ssm_host_param"`
	SSMUserParam     string `mapstructure:"ssm_user_param"`
	SSMPasswordParam string `mapstructure:"ssm_password_param"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds a lib/pq connection string. In "prod" the host and credentials come
// from AWS SSM Parameter Store; a missing parameter is an error.
func (cfg *PostgresConfig) DSN(env string) (string, error) {
	host, user, password := cfg.Host, cfg.User, cfg.Password

	if env == "prod" {
		var err error
		if host, err = getParameterStoreValue(cfg.SSMHostParam, true); err != nil {
			return "", err
		}
		if user, err = getParameterStoreValue(cfg.SSMUserParam, true); err != nil {
			return "", err
		}
		if password, err = getParameterStoreValue(cfg.SSMPasswordParam, true); err != nil {
			return "", err
		}
	}

	return cfg.dsn(host, user, password, cfg.DBName), nil
}

// AdminDSN points at the "postgres" maintenance database, for CREATE DATABASE.
func (cfg *PostgresConfig) AdminDSN() string {
	return cfg.dsn(cfg.Host, cfg.User, cfg.Password, "postgres")
}

func (cfg *PostgresConfig) dsn(host, user, password, dbName string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, dbName, cfg.SSLMode,
	)
	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}
	return dsn
}

func getParameterStoreValue(parameterName string, decrypt bool) (string, error) {
	if parameterName == "" {
		return "", fmt.Errorf("ssm parameter name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("load aws config: %w", err)
	}

	client := ssm.NewFromConfig(cfg)
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &parameterName,
		WithDecryption: &decrypt,
	})
	if err != nil {
		return "", fmt.Errorf("get ssm parameter %s: %w", parameterName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %s has no value", parameterName)
	}

	return *result.Parameter.Value, nil
}
