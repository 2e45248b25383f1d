// Package blobstore uploads email attachments to S3 or an S3-compatible store
// and returns URLs the document extractor can fetch.
package blobstore

// DefaultFolder is the key prefix used when none is configured.
const DefaultFolder = "reinsurance_docs"

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Config configures the attachment store.
//
// Credentials follow the AWS SDK default chain unless AccessKeyID and
// SecretAccessKey are both set. For S3-compatible stores (MinIO, Wasabi,
// Spaces) set Endpoint and usually ForcePathStyle.
type Config struct {
	// Bucket is required.
	Bucket string

	Region   string
	Endpoint string
	Profile  string

	AccessKeyID     string
	SecretAccessKey string

	ForcePathStyle bool

	// Folder prefixes every object key.
	Folder string

	// PublicBaseURL overrides the URL returned for uploaded objects, e.g. a
	// CDN in front of the bucket.
	PublicBaseURL string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "blobstore config: " + e.Field + ": " + e.Message
}

func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if cfgRegion != "" {
		return cfgRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
