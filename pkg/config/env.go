package config

const EnvPrefix = "COOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv = "COOP_APP_ENV"
	EnvPort   = "COOP_APP_PORT"

	EnvDBDSN  = "COOP_DB_DSN"
	EnvDBHost = "COOP_DB_HOST"
	EnvDBUser = "COOP_DB_USER"
	EnvDBName = "COOP_DB_NAME"

	EnvRedisURL   = "COOP_REDIS_URL"
	EnvUseSQLite  = "COOP_USE_SQLITE"
	EnvGCPProject = "COOP_GCP_PROJECT_ID"

	EnvCronRunAt = "COOP_CRON_RUN_AT"

	EnvContributionsWeekStart = "COOP_CONTRIBUTIONS_WEEK_START"
	EnvReferralsMilestones    = "COOP_REFERRALS_MILESTONES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
