package config

import "time"

type App struct {
	Port     string `env:"APP_PORT,default=8080"`
	Env      string `env:"APP_ENV,default=dev"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	DatabaseURL     string        `env:"DATABASE_URL,required"`
	DBMaxConns      int32         `env:"DB_MAX_CONNS,default=10"`
	DBMaxConnLife   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=30m"`
	MigrateOnServe  bool          `env:"MIGRATE_ON_SERVE,default=true"`
	JWTSecret       string        `env:"JWT_SECRET"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS,default=20"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	SchedulerEnabled   bool   `env:"SCHEDULER_ENABLED,default=true"`
	SweepSchedule      string `env:"SWEEP_SCHEDULE,default=@every 1h"`
	AutoCancelSchedule string `env:"AUTO_CANCEL_SCHEDULE,default=@every 1m"`

	RetryMaxRetries int           `env:"RETRY_MAX_RETRIES,default=4"`
	RetryBaseDelay  time.Duration `env:"RETRY_BASE_DELAY,default=50ms"`
	RetryMaxDelay   time.Duration `env:"RETRY_MAX_DELAY,default=2s"`

	IssuerURL     string        `env:"REWARD_ISSUER_URL"`
	IssuerAPIKey  string        `env:"REWARD_ISSUER_API_KEY"`
	IssuerTimeout time.Duration `env:"REWARD_ISSUER_TIMEOUT,default=5s"`

	// Policy served as version 0 until an admin stores one.
	PointsValidityDays int           `env:"POINTS_VALIDITY_DAYS,default=365"`
	EarnRate           float64       `env:"EARN_RATE,default=1"`
	RedemptionTimeout  time.Duration `env:"REDEMPTION_TIMEOUT,default=15m"`
	// Tiers is "name:min;name:min", ascending.
	Tiers string `env:"TIERS,default=bronze:0;silver:1000;gold:5000;platinum:20000"`
}
