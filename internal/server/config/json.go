package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophaccount/internal/flagx"
	"github.com/dmitrijs2005/gophaccount/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations use
// timex.Duration so either "15m" or integer nanoseconds are accepted.
type JsonConfig struct {
	HTTPAddr        string         `json:"http_addr"`
	DatabaseDSN     string         `json:"database_dsn"`
	SecretKey       string         `json:"secret_key"`
	AccessTokenTTL  timex.Duration `json:"access_token_ttl"`
	RefreshTokenTTL timex.Duration `json:"refresh_token_ttl"`
	PendingTokenTTL timex.Duration `json:"pending_token_ttl"`
	Production      bool           `json:"production"`
	CookieDomain    string         `json:"cookie_domain"`
	PublicBaseURL   string         `json:"public_base_url"`
	ExportDir       string         `json:"export_dir"`
	ExportTTL       timex.Duration `json:"export_ttl"`
	ExportTimeout   timex.Duration `json:"export_timeout"`
	ExportBackend   string         `json:"export_backend"`
	S3RootUser      string         `json:"s3_root_user"`
	S3RootPassword  string         `json:"s3_root_password"`
	S3Bucket        string         `json:"s3_bucket"`
	S3Region        string         `json:"s3_region"`
	S3BaseEndpoint  string         `json:"s3_base_endpoint"`
	AvatarBucket    string         `json:"avatar_bucket"`
	MailEnabled     bool           `json:"mail_enabled"`
	SMTPHost        string         `json:"smtp_host"`
	SMTPPort        int            `json:"smtp_port"`
	SMTPUser        string         `json:"smtp_user"`
	SMTPPassword    string         `json:"smtp_password"`
	MailFrom        string         `json:"mail_from"`
	ModerationEmail string         `json:"moderation_email"`
	FleetNotifyURL  string         `json:"fleet_notify_url"`
	FleetToken      string         `json:"fleet_token"`
	RedisURL        string         `json:"redis_url"`
	TwoFactorPolicy string         `json:"two_factor_policy"`
	LogBackend      string         `json:"log_backend"`
	SweepInterval   timex.Duration `json:"sweep_interval"`
}

// parseJson overlays the file named by -c/-config (or $ACCOUNT_CONFIG) onto
// config. Keys missing from the file keep their current value. An unreadable
// file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := fromConfig(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func fromConfig(config *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:        config.HTTPAddr,
		DatabaseDSN:     config.DatabaseDSN,
		SecretKey:       config.SecretKey,
		AccessTokenTTL:  timex.Duration{Duration: config.AccessTokenTTL},
		RefreshTokenTTL: timex.Duration{Duration: config.RefreshTokenTTL},
		PendingTokenTTL: timex.Duration{Duration: config.PendingTokenTTL},
		Production:      config.Production,
		CookieDomain:    config.CookieDomain,
		PublicBaseURL:   config.PublicBaseURL,
		ExportDir:       config.ExportDir,
		ExportTTL:       timex.Duration{Duration: config.ExportTTL},
		ExportTimeout:   timex.Duration{Duration: config.ExportTimeout},
		ExportBackend:   config.ExportBackend,
		S3RootUser:      config.S3RootUser,
		S3RootPassword:  config.S3RootPassword,
		S3Bucket:        config.S3Bucket,
		S3Region:        config.S3Region,
		S3BaseEndpoint:  config.S3BaseEndpoint,
		AvatarBucket:    config.AvatarBucket,
		MailEnabled:     config.MailEnabled,
		SMTPHost:        config.SMTPHost,
		SMTPPort:        config.SMTPPort,
		SMTPUser:        config.SMTPUser,
		SMTPPassword:    config.SMTPPassword,
		MailFrom:        config.MailFrom,
		ModerationEmail: config.ModerationEmail,
		FleetNotifyURL:  config.FleetNotifyURL,
		FleetToken:      config.FleetToken,
		RedisURL:        config.RedisURL,
		TwoFactorPolicy: config.TwoFactorPolicy,
		LogBackend:      config.LogBackend,
		SweepInterval:   timex.Duration{Duration: config.SweepInterval},
	}
}

func (c *JsonConfig) apply(config *Config) {
	config.HTTPAddr = c.HTTPAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.SecretKey = c.SecretKey
	config.AccessTokenTTL = c.AccessTokenTTL.Duration
	config.RefreshTokenTTL = c.RefreshTokenTTL.Duration
	config.PendingTokenTTL = c.PendingTokenTTL.Duration
	config.Production = c.Production
	config.CookieDomain = c.CookieDomain
	config.PublicBaseURL = c.PublicBaseURL
	config.ExportDir = c.ExportDir
	config.ExportTTL = c.ExportTTL.Duration
	config.ExportTimeout = c.ExportTimeout.Duration
	config.ExportBackend = c.ExportBackend
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.AvatarBucket = c.AvatarBucket
	config.MailEnabled = c.MailEnabled
	config.SMTPHost = c.SMTPHost
	config.SMTPPort = c.SMTPPort
	config.SMTPUser = c.SMTPUser
	config.SMTPPassword = c.SMTPPassword
	config.MailFrom = c.MailFrom
	config.ModerationEmail = c.ModerationEmail
	config.FleetNotifyURL = c.FleetNotifyURL
	config.FleetToken = c.FleetToken
	config.RedisURL = c.RedisURL
	config.TwoFactorPolicy = c.TwoFactorPolicy
	config.LogBackend = c.LogBackend
	config.SweepInterval = c.SweepInterval.Duration
}
