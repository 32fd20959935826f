package domain

import "time"

// Config holds the complete sanctiond configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which adapters back the service
	Tier Tier `json:"tier" env:"SANCTIOND_TIER"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Fine calculation and deadline policy
	Policy    PolicyConfig   `json:"policy"`
	Deadlines DeadlineConfig `json:"deadlines"`

	// Background work
	Worker WorkerConfig `json:"worker"`

	// Actor resolution
	Auth AuthConfig `json:"auth"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" env:"SANCTIOND_HOST"`
	Port         int    `json:"port" env:"SANCTIOND_PORT"`
	ReadTimeout  int    `json:"readTimeout" env:"SANCTIOND_READ_TIMEOUT"`   // seconds
	WriteTimeout int    `json:"writeTimeout" env:"SANCTIOND_WRITE_TIMEOUT"` // seconds
}

// PolicyConfig holds the fine calculation constants.
// Percentages are expressed in basis points (10000 = 100%).
type PolicyConfig struct {
	// RecidivismStepBP is the multiplier increment per prior sanction.
	RecidivismStepBP int64 `json:"recidivismStepBp" env:"SANCTIOND_RECIDIVISM_STEP_BP"`

	// RecidivismCap bounds the prior-sanction count used by the multiplier.
	RecidivismCap int `json:"recidivismCap" env:"SANCTIOND_RECIDIVISM_CAP"`

	// StateShareBP is the state's share of the final amount.
	StateShareBP int64 `json:"stateShareBp" env:"SANCTIOND_STATE_SHARE_BP"`

	// SuspensionThreshold is the prior-sanction count at which suspension is advised.
	SuspensionThreshold int `json:"suspensionThreshold" env:"SANCTIOND_SUSPENSION_THRESHOLD"`

	StateBudgetCode  string `json:"stateBudgetCode" env:"SANCTIOND_STATE_BUDGET_CODE"`
	RegionBudgetCode string `json:"regionBudgetCode" env:"SANCTIOND_REGION_BUDGET_CODE"`

	// Deadline days echoed on calculation results.
	PaymentDeadlineDays int `json:"paymentDeadlineDays" env:"SANCTIOND_PAYMENT_DAYS"`
	AppealDeadlineDays  int `json:"appealDeadlineDays" env:"SANCTIOND_APPEAL_DAYS"`
}

// DeadlineOffsets are calendar-day offsets from the notification date.
type DeadlineOffsets struct {
	PaymentDays int `json:"paymentDays" env:"PAYMENT_DAYS"`
	AppealDays  int `json:"appealDays" env:"APPEAL_DAYS"`
}

// DeadlineConfig maps notification methods to deadline offsets.
type DeadlineConfig struct {
	// TimeZone is the IANA location whose calendar dates anchor deadlines.
	TimeZone string `json:"timeZone" env:"SANCTIOND_TIMEZONE"`

	PersonalService DeadlineOffsets `json:"personalService" env-prefix:"SANCTIOND_PERSONAL_"`
	RegisteredMail  DeadlineOffsets `json:"registeredMail" env-prefix:"SANCTIOND_MAIL_"`
	Email           DeadlineOffsets `json:"email" env-prefix:"SANCTIOND_EMAIL_"`
}

// Offsets returns the configured offsets for a method.
func (c DeadlineConfig) Offsets(m NotificationMethod) (DeadlineOffsets, bool) {
	switch m {
	case MethodPersonalService:
		return c.PersonalService, true
	case MethodRegisteredMail:
		return c.RegisteredMail, true
	case MethodEmail:
		return c.Email, true
	default:
		return DeadlineOffsets{}, false
	}
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// SweepInterval is how often notified decisions are checked for overdue payment.
	// Zero disables the periodic sweep.
	SweepInterval time.Duration `json:"sweepInterval" env:"SANCTIOND_SWEEP_INTERVAL"`

	// SweepConcurrency bounds parallel MarkOverdue calls within a sweep.
	SweepConcurrency int `json:"sweepConcurrency" env:"SANCTIOND_SWEEP_CONCURRENCY"`

	// AutoExport produces the fiscal export as soon as a decision is approved.
	AutoExport bool `json:"autoExport" env:"SANCTIOND_AUTO_EXPORT"`

	// ExportWorkers is the number of export consumers.
	ExportWorkers int `json:"exportWorkers" env:"SANCTIOND_EXPORT_WORKERS"`
}

// AuthConfig controls how the acting user is resolved.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens carrying sub and role claims.
	JWTSecret string `json:"-" env:"SANCTIOND_JWT_SECRET"`

	// AllowHeaderActors accepts X-Actor-ID and X-Actor-Role headers.
	// Meant for deployments behind an authenticating gateway.
	AllowHeaderActors bool `json:"allowHeaderActors" env:"SANCTIOND_HEADER_ACTORS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" env:"SANCTIOND_LOG_LEVEL"`   // debug, info, warn, error
	Format string `json:"format" env:"SANCTIOND_LOG_FORMAT"` // json, text
	Debug  bool   `json:"debug" env:"SANCTIOND_DEBUG"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" env:"SANCTIOND_TRACING"`
	ServiceName  string `json:"serviceName" env:"SANCTIOND_SERVICE_NAME"`
	ExporterType string `json:"exporterType" env:"SANCTIOND_TRACE_EXPORTER"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint" env:"SANCTIOND_TRACE_ENDPOINT"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultPolicy returns the statutory calculation constants.
func DefaultPolicy() PolicyConfig {
	return PolicyConfig{
		RecidivismStepBP:    2500,
		RecidivismCap:       4,
		StateShareBP:        5000,
		SuspensionThreshold: 3,
		StateBudgetCode:     "1560989001",
		RegionBudgetCode:    "3741",
		PaymentDeadlineDays: 30,
		AppealDeadlineDays:  15,
	}
}

// DefaultDeadlines returns the statutory deadline offsets.
func DefaultDeadlines() DeadlineConfig {
	personal := DeadlineOffsets{PaymentDays: 25, AppealDays: 10}
	return DeadlineConfig{
		TimeZone:        "Europe/Athens",
		PersonalService: personal,
		RegisteredMail:  DeadlineOffsets{PaymentDays: 30, AppealDays: 15},
		Email:           personal,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sanctiond.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			LookupTTL:    time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Policy:    DefaultPolicy(),
		Deadlines: DefaultDeadlines(),
		Worker: WorkerConfig{
			SweepInterval:    time.Hour,
			SweepConcurrency: 8,
			ExportWorkers:    2,
		},
		Auth: AuthConfig{
			AllowHeaderActors: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sanctiond",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "sanctiond",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		LookupTTL:      time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.AutoExport = true
	cfg.Auth.AllowHeaderActors = false
	cfg.Tracing.Enabled = true
	return cfg
}
