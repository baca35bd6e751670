package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	Admin         AdminConfig
	DB            DBConfig
	Redis         RedisConfig
	FeatureFlags  FeatureFlagsConfig
	Eventing      EventingConfig
	GCP           GCPConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Tracing       TracingConfig
	Cron          CronConfig
	Contributions ContributionsConfig
	Referrals     ReferralsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	if _, err := cfg.Contributions.WeekStart(); err != nil {
		return nil, err
	}
	if _, _, err := cfg.Cron.RunAtClock(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"COOP_APP_ENV" required:"true"`
	Port         string `envconfig:"COOP_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"COOP_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"COOP_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"COOP_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AdminConfig guards the operator API. An empty token disables the admin routes.
type AdminConfig struct {
	APIToken string `envconfig:"COOP_ADMIN_API_TOKEN"`
}

type ServiceConfig struct {
	Kind string `envconfig:"COOP_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN        string `envconfig:"COOP_DB_DSN"`
	Driver     string `envconfig:"COOP_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"COOP_DB_SQLITE_PATH" default:"cooperative.db"`

	LegacyHost     string `envconfig:"COOP_DB_HOST"`
	LegacyPort     int    `envconfig:"COOP_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"COOP_DB_USER"`
	LegacyPassword string `envconfig:"COOP_DB_PASSWORD"`
	LegacyName     string `envconfig:"COOP_DB_NAME"`
	LegacySSLMode  string `envconfig:"COOP_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COOP_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COOP_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COOP_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COOP_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"COOP_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
	TxRetries          int           `envconfig:"COOP_DB_TX_RETRIES" default:"3"`
}

type RedisConfig struct {
	URL          string        `envconfig:"COOP_REDIS_URL"`
	Address      string        `envconfig:"COOP_REDIS_ADDR"`
	Password     string        `envconfig:"COOP_REDIS_PASSWORD"`
	DB           int           `envconfig:"COOP_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COOP_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COOP_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COOP_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COOP_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COOP_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"COOP_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"COOP_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"COOP_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"COOP_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"COOP_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"COOP_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic              string `envconfig:"COOP_PUBSUB_DOMAIN_TOPIC" default:"coop-domain-events"`
	ReferralSubscription     string `envconfig:"COOP_PUBSUB_REFERRAL_SUBSCRIPTION" default:"coop-referral-cascade"`
	NotificationSubscription string `envconfig:"COOP_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"coop-member-notifications"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"COOP_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"COOP_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"COOP_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"COOP_OUTBOX_RETENTION" default:"720h"`
	MetricsAddr    string        `envconfig:"COOP_OUTBOX_METRICS_ADDR" default:""`
}

type TracingConfig struct {
	Enabled     bool    `envconfig:"COOP_TRACING_ENABLED" default:"false"`
	Endpoint    string  `envconfig:"COOP_TRACING_OTLP_ENDPOINT" default:"localhost:4318"`
	Insecure    bool    `envconfig:"COOP_TRACING_INSECURE" default:"true"`
	SampleRatio float64 `envconfig:"COOP_TRACING_SAMPLE_RATIO" default:"1"`
}

type CronConfig struct {
	RunAt                 string        `envconfig:"COOP_CRON_RUN_AT" default:"02:00"`
	Interval              time.Duration `envconfig:"COOP_CRON_INTERVAL"`
	Timezone              string        `envconfig:"COOP_CRON_TIMEZONE" default:"UTC"`
	LockTTL               time.Duration `envconfig:"COOP_CRON_LOCK_TTL" default:"30m"`
	SweepConcurrency      int           `envconfig:"COOP_CRON_SWEEP_CONCURRENCY" default:"8"`
	NotificationRetention time.Duration `envconfig:"COOP_CRON_NOTIFICATION_RETENTION" default:"2160h"`
	CascadeRetryBatch     int           `envconfig:"COOP_CRON_CASCADE_RETRY_BATCH" default:"200"`
}

// RunAtClock parses RunAt as a 24h HH:MM wall clock.
func (c CronConfig) RunAtClock() (hour, minute uint, err error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(c.RunAt))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid %s %q: %w", EnvCronRunAt, c.RunAt, err)
	}
	return uint(parsed.Hour()), uint(parsed.Minute()), nil
}

// Location resolves the scheduler timezone.
func (c CronConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

type ContributionsConfig struct {
	WeekStartDay     string        `envconfig:"COOP_CONTRIBUTIONS_WEEK_START" default:"sunday"`
	WindowLength     time.Duration `envconfig:"COOP_CONTRIBUTIONS_WINDOW_LENGTH" default:"48h"`
	LateFeeCents     int64         `envconfig:"COOP_CONTRIBUTIONS_LATE_FEE_CENTS" default:"50000"`
	MissGracePeriod  time.Duration `envconfig:"COOP_CONTRIBUTIONS_MISS_GRACE" default:"48h"`
	DefaultThreshold int           `envconfig:"COOP_CONTRIBUTIONS_DEFAULT_THRESHOLD" default:"2"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekStart resolves the configured first day of a cycle week.
func (c ContributionsConfig) WeekStart() (time.Weekday, error) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(c.WeekStartDay))]
	if !ok {
		return time.Sunday, fmt.Errorf("invalid %s %q", EnvContributionsWeekStart, c.WeekStartDay)
	}
	return day, nil
}

type ReferralsConfig struct {
	DirectBonusCents int64         `envconfig:"COOP_REFERRALS_DIRECT_BONUS_CENTS" default:"100000"`
	Milestones       map[int]int64 `envconfig:"COOP_REFERRALS_MILESTONES" default:"5:500000,10:1200000,25:3500000"`
}

// Milestone is one team-bonus threshold and its fixed reward.
type Milestone struct {
	Threshold   int
	RewardCents int64
}

// SortedMilestones returns the configured milestones in ascending threshold order.
func (r ReferralsConfig) SortedMilestones() []Milestone {
	out := make([]Milestone, 0, len(r.Milestones))
	for threshold, reward := range r.Milestones {
		if threshold <= 0 || reward <= 0 {
			continue
		}
		out = append(out, Milestone{Threshold: threshold, RewardCents: reward})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Threshold < out[j].Threshold })
	return out
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if db.DSN != "" || useSQLite {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
