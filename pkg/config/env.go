package config

const (
	EnvPrefix = "BAZAAR"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "BAZAAR_APP_ENV"
	EnvPort     = "BAZAAR_APP_PORT"
	EnvLogLevel = "BAZAAR_LOG_LEVEL"

	EnvDBDSN  = "BAZAAR_DB_DSN"
	EnvDBHost = "BAZAAR_DB_HOST"
	EnvDBUser = "BAZAAR_DB_USER"
	EnvDBName = "BAZAAR_DB_NAME"

	EnvRedisURL  = "BAZAAR_REDIS_URL"
	EnvJWTSecret = "BAZAAR_JWT_SECRET"
	EnvJWTIssuer = "BAZAAR_JWT_ISSUER"

	EnvCheckoutShippingFee = "BAZAAR_CHECKOUT_SHIPPING_FEE"
	EnvCheckoutTaxRate     = "BAZAAR_CHECKOUT_TAX_RATE"
	EnvCommissionRate      = "BAZAAR_COMMISSION_RATE"
	EnvNotificationsDriver = "BAZAAR_NOTIFICATIONS_DRIVER"
	EnvPaystackSecretKey   = "BAZAAR_PAYSTACK_SECRET_KEY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
