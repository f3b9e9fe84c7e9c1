package config

import (
	"encoding/json"
	"os"

	"github.com/secfiles/filevault/internal/flagx"
	"github.com/secfiles/filevault/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON
// configuration files. Interval fields use timex.Duration so both string
// values such as "30s" and integer nanoseconds parse. After unmarshalling,
// its fields are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddr string `json:"endpoint_addr"`
	DatabaseDSN  string `json:"database_dsn"`
	SecretKey    string `json:"secret_key"`

	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	ScannerAddr     string         `json:"scanner_addr"`
	ScanTimeout     timex.Duration `json:"scan_timeout"`
	ScanRetries     uint64         `json:"scan_retries"`
	ScanRetryBase   timex.Duration `json:"scan_retry_base"`
	PendingRetryAge timex.Duration `json:"pending_retry_age"`

	MaxUploadSize int64 `json:"max_upload_size"`
	MinUploadSize int64 `json:"min_upload_size"`

	ShareMaxTTL       timex.Duration `json:"share_max_ttl"`
	ShareMaxDownloads int64          `json:"share_max_downloads"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config flags; when
// neither is set, no JSON file is loaded. An unreadable or invalid file
// panics, configuration being unrecoverable at startup.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
	if c.ScannerAddr != "" {
		config.ScannerAddr = c.ScannerAddr
	}
	if c.ScanTimeout.Duration != 0 {
		config.ScanTimeout = c.ScanTimeout.Duration
	}
	if c.ScanRetries != 0 {
		config.ScanRetries = c.ScanRetries
	}
	if c.ScanRetryBase.Duration != 0 {
		config.ScanRetryBase = c.ScanRetryBase.Duration
	}
	if c.PendingRetryAge.Duration != 0 {
		config.PendingRetryAge = c.PendingRetryAge.Duration
	}
	if c.MaxUploadSize != 0 {
		config.MaxUploadSize = c.MaxUploadSize
	}
	if c.MinUploadSize != 0 {
		config.MinUploadSize = c.MinUploadSize
	}
	if c.ShareMaxTTL.Duration != 0 {
		config.ShareMaxTTL = c.ShareMaxTTL.Duration
	}
	if c.ShareMaxDownloads != 0 {
		config.ShareMaxDownloads = c.ShareMaxDownloads
	}
}
