package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// parseEnv overlays configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it, which is godotenv's default behavior.
func parseEnv(config *Config) {
	_ = godotenv.Load()

	setString(&config.EndpointAddr, "FILEVAULT_ADDR")
	setString(&config.DatabaseDSN, "FILEVAULT_DATABASE_DSN")
	setString(&config.SecretKey, "FILEVAULT_SECRET_KEY")

	setString(&config.S3RootUser, "FILEVAULT_S3_USER")
	setString(&config.S3RootPassword, "FILEVAULT_S3_PASSWORD")
	setString(&config.S3Bucket, "FILEVAULT_S3_BUCKET")
	setString(&config.S3Region, "FILEVAULT_S3_REGION")
	setString(&config.S3BaseEndpoint, "FILEVAULT_S3_ENDPOINT")

	setString(&config.ScannerAddr, "FILEVAULT_SCANNER_ADDR")
	setDuration(&config.ScanTimeout, "FILEVAULT_SCAN_TIMEOUT")
	setUint(&config.ScanRetries, "FILEVAULT_SCAN_RETRIES")
	setDuration(&config.ScanRetryBase, "FILEVAULT_SCAN_RETRY_BASE")
	setDuration(&config.PendingRetryAge, "FILEVAULT_PENDING_RETRY_AGE")

	setInt(&config.MaxUploadSize, "FILEVAULT_MAX_UPLOAD_SIZE")
	setInt(&config.MinUploadSize, "FILEVAULT_MIN_UPLOAD_SIZE")

	setDuration(&config.ShareMaxTTL, "FILEVAULT_SHARE_MAX_TTL")
	setInt(&config.ShareMaxDownloads, "FILEVAULT_SHARE_MAX_DOWNLOADS")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
