package config

import "time"

// Store drivers understood by the API and the Lambda handlers.
const (
	StoreDynamo   = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Trigger drivers.
const (
	TriggerCodeBuild = "codebuild"
	TriggerBuilder   = "builder"
)

// APIConfig holds runtime configuration for the self-hosted API server.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	StoreDriver        string
	DatabaseURL        string
	TriggerDriver      string
	BuilderURL         string
	BuilderAuthToken   string
	JWTSecret          string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	HandlerTimeout     time.Duration
	Build              BuildConfig
	Tables             TableConfig
	Reconcile          ReconcileConfig
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		StoreDriver:        GetString("STORE_DRIVER", StorePostgres),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://buildor:buildor@db:5432/buildor?sslmode=disable"),
		TriggerDriver:      GetString("TRIGGER_DRIVER", TriggerBuilder),
		BuilderURL:         GetString("BUILDER_URL", "http://builder:5000"),
		BuilderAuthToken:   GetString("BUILDER_AUTH_TOKEN", ""),
		JWTSecret:          GetString("JWT_SECRET", ""),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		HandlerTimeout:     GetSeconds("HANDLER_TIMEOUT_SECONDS", 5),
		Build:              loadBuildConfig(),
		Tables:             loadTableConfig(),
		Reconcile:          loadReconcileConfig(),
	}
}

// BuildConfig describes how builds are started.
type BuildConfig struct {
	// JobDefinition names the CodeBuild project (or builder profile) used for every deployment.
	JobDefinition string
	Timeout       time.Duration
}

func loadBuildConfig() BuildConfig {
	return BuildConfig{
		JobDefinition: GetString("CODEBUILD_PROJECT_NAME", "App-Building-SPAs"),
		Timeout:       GetSeconds("BUILD_TRIGGER_TIMEOUT_SECONDS", 4),
	}
}

// TableConfig names the DynamoDB tables and indexes.
type TableConfig struct {
	Region            string
	Endpoint          string
	Projects          string
	Deployments       string
	Users             string
	BuildJobIndex     string
	ProjectCreatedIdx string
}

func loadTableConfig() TableConfig {
	return TableConfig{
		Region:            GetString("TABLE_REGION", ""),
		Endpoint:          GetString("DYNAMODB_ENDPOINT", ""),
		Projects:          GetString("TABLE_NAME_PROJECTS", "Projects"),
		Deployments:       GetString("TABLE_NAME", "ProjectDeployments"),
		Users:             GetString("TABLE_NAME_USERS", "Users"),
		BuildJobIndex:     GetString("TABLE_INDEX_BUILD_JOB", "build_job_id-index"),
		ProjectCreatedIdx: GetString("TABLE_INDEX_PROJECT_CREATED", "project_id-created_at-index"),
	}
}

// ReconcileConfig bounds the reconciler's retry behaviour.
type ReconcileConfig struct {
	// CASAttempts bounds re-read/re-apply cycles after a failed conditional write.
	CASAttempts int
	// OrphanRetries is how many deliveries of an unmatched event are bounced back for redelivery.
	OrphanRetries int
	// OrphanGrace is the window during which an unmatched event is still considered retryable.
	OrphanGrace time.Duration
	// DeliveryAttempts is the in-process redelivery budget used for builder callbacks.
	DeliveryAttempts int
	RedisAddr        string
	RedisPass        string
	RedisDB          int
}

func loadReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		CASAttempts:      GetInt("RECONCILE_CAS_ATTEMPTS", 3),
		OrphanRetries:    GetInt("ORPHAN_EVENT_RETRIES", 2),
		OrphanGrace:      GetSeconds("ORPHAN_EVENT_GRACE_SECONDS", 60),
		DeliveryAttempts: GetInt("EVENT_DELIVERY_ATTEMPTS", 3),
		RedisAddr:        GetString("ORPHAN_REDIS_ADDR", ""),
		RedisPass:        GetString("ORPHAN_REDIS_PASSWORD", ""),
		RedisDB:          GetInt("ORPHAN_REDIS_DB", 0),
	}
}
