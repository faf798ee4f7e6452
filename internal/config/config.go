package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string
	BaseURL string // public URL of this service, used for confirmation links

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string

	// StoreBackend selects the record store: "dynamo" or "postgres".
	StoreBackend    string
	DynamoTables    DynamoTables
	DynamoBootstrap bool // create tables and indexes on startup
	DatabaseURL     string

	// FileBackend selects where uploads live: "s3" or "local".
	FileBackend  string
	S3BucketName string
	UploadDir    string

	RedisURL string

	// MailTransport selects the outbound mail path: "smtp", "ses" or "resend".
	MailTransport string
	SMTPHost      string
	SMTPPort      string
	SMTPFrom      string
	SMTPUsername  string
	SMTPPassword  string
	SESRegion     string
	ResendAPIKey  string

	SNSRegion       string
	SNSTopicARN     string // empty disables the legacy event broadcast
	FormsConfigPath string

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	JWTExpiry         time.Duration

	CleanupInterval time.Duration
	LogFormat       string
	AllowedOrigins  []string // CORS allowed origins
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	OptIns string
}

// Load reads all configuration from environment variables.
func Load() *Config {
	return &Config{
		AppPort: getEnv("APP_PORT", "3000"),
		AppEnv:  getEnv("APP_ENV", "development"),
		BaseURL: strings.TrimRight(getEnv("BASE_URL", "http://localhost:3000"), "/"),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),

		StoreBackend: getEnv("STORE_BACKEND", "dynamo"),
		DynamoTables: DynamoTables{
			OptIns: getEnv("DYNAMO_TABLE_OPTINS", "optins"),
		},
		DynamoBootstrap: getEnvBool("DYNAMO_BOOTSTRAP", true),
		DatabaseURL:     getEnv("DATABASE_URL", ""),

		FileBackend:  getEnv("FILE_BACKEND", "s3"),
		S3BucketName: getEnv("S3_BUCKET_NAME", "doubleoptin-uploads"),
		UploadDir:    getEnv("UPLOAD_DIR", "./uploads"),

		RedisURL: getEnv("REDIS_URL", ""),

		MailTransport: getEnv("MAIL_TRANSPORT", "smtp"),
		SMTPHost:      getEnv("SMTP_HOST", "localhost"),
		SMTPPort:      getEnv("SMTP_PORT", "1025"),
		SMTPFrom:      getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SESRegion:     getEnv("SES_REGION", getEnv("AWS_REGION", "us-east-1")),
		ResendAPIKey:  getEnv("RESEND_API_KEY", ""),

		SNSRegion:       getEnv("SNS_REGION", "us-east-1"),
		SNSTopicARN:     getEnv("SNS_TOPIC_ARN", ""),
		FormsConfigPath: getEnv("FORMS_CONFIG_PATH", "./forms.yaml"),

		JWTPrivateKeyPath: getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:  getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		JWTExpiry:         time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 12)) * time.Hour,

		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", time.Hour),
		LogFormat:       getEnv("LOG_FORMAT", "json"),
		AllowedOrigins:  strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
