package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/flagx"
)

// parseFlags overlays command-line flags onto config.
//
//	-a string      HTTP bind address (e.g. ":8080")
//	-d string      PostgreSQL DSN
//	-s string      JWT HMAC secret key
//	-t int         access token validity, minutes
//	-r int         refresh token validity, minutes
//	-x string      export directory
//	-u/-p string   S3 root user / password
//	-b string      S3 bucket
//	-g string      S3 region
//	-e string      S3 base endpoint
//	-redis string  redis URL for the 2FA attempt limiter
//	-policy string two-factor login policy (enforce|disabled)
//	-log string    log backend (slog|zap)
//	-production    production cookie and secret rules
//
// Only these flags are picked out of os.Args, so the JSON loader's -c/-config
// never collides with them.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-s", "-t", "-r", "-x", "-u", "-p", "-b", "-g", "-e",
		"-redis", "-policy", "-log",
	}, "-production")

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenTTL := fs.Int("t", int(config.AccessTokenTTL.Minutes()), "access token validity (in minutes)")
	refreshTokenTTL := fs.Int("r", int(config.RefreshTokenTTL.Minutes()), "refresh token validity (in minutes)")

	fs.StringVar(&config.ExportDir, "x", config.ExportDir, "export directory")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.RedisURL, "redis", config.RedisURL, "redis URL")
	fs.StringVar(&config.TwoFactorPolicy, "policy", config.TwoFactorPolicy, "two-factor login policy")
	fs.StringVar(&config.LogBackend, "log", config.LogBackend, "log backend")
	fs.BoolVar(&config.Production, "production", config.Production, "production mode")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenTTL = time.Duration(*accessTokenTTL) * time.Minute
	config.RefreshTokenTTL = time.Duration(*refreshTokenTTL) * time.Minute
}
