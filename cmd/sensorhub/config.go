package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tyemirov/sensorhub/internal/authkit"
	"github.com/tyemirov/sensorhub/internal/telemetry"
)

const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "password123"

	configCodeMissingJWTSigningKey    = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL        = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL       = "config.invalid_refresh_ttl"
	configCodeMissingAdminUsername    = "config.missing_default_admin_username"
	configCodeMissingCORSOrigins      = "config.missing_cors_allowed_origins"
	configCodeIncompleteInflux        = "config.incomplete_influxdb"
	configCodeUninitializedServerConf = "config.uninitialized_server_config"
	configCodeReadConfigFile          = "config.read_config_file"
	configCodeMissingDatabaseURL      = "config.missing_database_url"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

// AppConfig is the validated runtime configuration of the server.
type AppConfig struct {
	Auth                 authkit.ServerConfig
	ListenAddr           string
	DatabaseURL          string
	RedisURL             string
	PurgeInterval        time.Duration
	DefaultAdminUsername string
	DefaultAdminPassword string
	SeedFile             string
	EnableCORS           bool
	CORSAllowedOrigins   []string
	Influx               telemetry.InfluxConfig
	MQTT                 telemetry.MQTTConfig
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func readConfigFile(command *cobra.Command, arguments []string) error {
	path := strings.TrimSpace(viper.GetString("config"))
	if path == "" {
		return nil
	}
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return configError(configCodeReadConfigFile, err.Error())
	}
	return nil
}

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	appConfig, loadErr := LoadAppConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, appConfig))
	return nil
}

// LoadAppConfig reads and validates the viper-bound settings.
func LoadAppConfig() (AppConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return AppConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return AppConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= accessTTL {
		return AppConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than access_ttl")
	}

	issuer := strings.TrimSpace(viper.GetString("jwt_issuer"))
	if issuer == "" {
		issuer = authkit.DefaultIssuer
	}

	adminUsername := strings.TrimSpace(viper.GetString("default_admin_username"))
	if adminUsername == "" {
		return AppConfig{}, configError(configCodeMissingAdminUsername, "default_admin_username must be provided")
	}

	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	if enableCORS && len(corsAllowedOrigins) == 0 {
		return AppConfig{}, configError(configCodeMissingCORSOrigins, "cors_allowed_origins must be provided when enable_cors is true")
	}

	influx := telemetry.InfluxConfig{
		URL:    strings.TrimSpace(viper.GetString("influxdb_url")),
		Token:  viper.GetString("influxdb_token"),
		Org:    strings.TrimSpace(viper.GetString("influxdb_org")),
		Bucket: strings.TrimSpace(viper.GetString("influxdb_bucket")),
	}
	if influx.URL != "" && (influx.Org == "" || influx.Bucket == "") {
		return AppConfig{}, configError(configCodeIncompleteInflux, "influxdb_org and influxdb_bucket must be provided with influxdb_url")
	}

	return AppConfig{
		Auth: authkit.ServerConfig{
			SigningKey:    []byte(jwtSigningKey),
			Issuer:        issuer,
			AccessTTL:     accessTTL,
			RefreshTTL:    refreshTTL,
			RevokeOnReuse: viper.GetBool("revoke_on_reuse"),
		},
		ListenAddr:           viper.GetString("listen_addr"),
		DatabaseURL:          strings.TrimSpace(viper.GetString("database_url")),
		RedisURL:             strings.TrimSpace(viper.GetString("redis_url")),
		PurgeInterval:        viper.GetDuration("revocation_purge_interval"),
		DefaultAdminUsername: adminUsername,
		DefaultAdminPassword: viper.GetString("default_admin_password"),
		SeedFile:             strings.TrimSpace(viper.GetString("seed_file")),
		EnableCORS:           enableCORS,
		CORSAllowedOrigins:   corsAllowedOrigins,
		Influx:               influx,
		MQTT: telemetry.MQTTConfig{
			BrokerURL: strings.TrimSpace(viper.GetString("mqtt_broker_url")),
			ClientID:  viper.GetString("mqtt_client_id"),
			Topic:     viper.GetString("mqtt_topic"),
		},
	}, nil
}

func bindServerFlags(command *cobra.Command) {
	flags := command.Flags()
	flags.String("listen_addr", ":8080", "HTTP listen address")
	flags.String("jwt_signing_key", "", "HS256 signing secret for access and refresh tokens")
	flags.String("jwt_issuer", authkit.DefaultIssuer, "Issuer embedded in every token")
	flags.Duration("access_ttl", authkit.DefaultAccessTTL, "Access token TTL")
	flags.Duration("refresh_ttl", authkit.DefaultRefreshTTL, "Refresh token TTL")
	flags.String("redis_url", "", "Redis URL for refresh token revocations (overrides database storage for revocations)")
	flags.Bool("revoke_on_reuse", false, "Revoke every refresh token of a user when a rotated token is replayed")
	flags.Duration("revocation_purge_interval", time.Hour, "Interval between expired revocation purges; 0 disables")
	flags.String("default_admin_username", defaultAdminUsername, "Username of the account created on first start")
	flags.String("default_admin_password", defaultAdminPassword, "Password of the account created on first start")
	flags.String("seed_file", "", "YAML file listing users to create on start")
	flags.Bool("enable_cors", false, "Enable CORS for browser clients")
	flags.StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled")
	flags.String("influxdb_url", "", "InfluxDB v2 URL; measurements are mirrored when set")
	flags.String("influxdb_token", "", "InfluxDB API token")
	flags.String("influxdb_org", "", "InfluxDB organization")
	flags.String("influxdb_bucket", "", "InfluxDB bucket")
	flags.String("mqtt_broker_url", "", "MQTT broker URL; device ingestion is enabled when set")
	flags.String("mqtt_client_id", "sensorhub", "MQTT client id")
	flags.String("mqtt_topic", telemetry.DefaultMQTTTopic, "MQTT topic filter for device measurements")

	flags.VisitAll(func(flag *pflag.Flag) {
		_ = viper.BindPFlag(flag.Name, flag)
	})
}
