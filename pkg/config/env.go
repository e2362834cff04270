package config

const (
	EnvPrefix = "CLINIC"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultTaxRate = "0.08"
)

const (
	EnvAppEnv           = "CLINIC_APP_ENV"
	EnvPort             = "CLINIC_APP_PORT"
	EnvDBDSN            = "CLINIC_DB_DSN"
	EnvDBDriver         = "CLINIC_DB_DRIVER"
	EnvDBHost           = "CLINIC_DB_HOST"
	EnvDBUser           = "CLINIC_DB_USER"
	EnvDBName           = "CLINIC_DB_NAME"
	EnvRedisURL         = "CLINIC_REDIS_URL"
	EnvJWTSecret        = "CLINIC_JWT_SECRET"
	EnvJWTIssuer        = "CLINIC_JWT_ISSUER"
	EnvTaxRate          = "CLINIC_TAX_RATE"
	EnvInvoiceDueDays   = "CLINIC_INVOICE_DUE_DAYS"
	EnvRefundWindowDays = "CLINIC_REFUND_WINDOW_DAYS"
)

var splitDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
