package config

// EnvPrefix is handed to envconfig; every field carries its full variable name.
const EnvPrefix = "REPARTOS"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv    = "REPARTOS_APP_ENV"
	EnvPort      = "REPARTOS_APP_PORT"
	EnvDBDSN     = "REPARTOS_DB_DSN"
	EnvDBHost    = "REPARTOS_DB_HOST"
	EnvDBUser    = "REPARTOS_DB_USER"
	EnvDBName    = "REPARTOS_DB_NAME"
	EnvRedisURL  = "REPARTOS_REDIS_URL"
	EnvRedisAddr = "REPARTOS_REDIS_ADDR"

	EnvJWTSecret = "REPARTOS_JWT_SECRET"
	EnvJWTIssuer = "REPARTOS_JWT_ISSUER"

	EnvCommissionRate        = "REPARTOS_COMMISSION_RATE"
	EnvCommissionBase        = "REPARTOS_COMMISSION_BASE"
	EnvCourierCommissionRate = "REPARTOS_COURIER_COMMISSION_RATE"
	EnvGeofenceRadius        = "REPARTOS_GEOFENCE_RADIUS_M"
)
