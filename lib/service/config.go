package service

type Config struct {
	DatabaseUri             string  `envconfig:"DATABASE_URI"` // empty runs on the in-memory store
	DatabaseMaxConns        int     `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMaxIdleConns    int     `envconfig:"DATABASE_MAX_IDLE_CONNS" default:"5"`
	DatabaseConnMaxLifetime int     `envconfig:"DATABASE_CONN_MAX_LIFETIME" default:"1800"` // 30 minutes
	SentryDSN               string  `envconfig:"SENTRY_DSN"`
	SentryTracesSampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE"`
	LogFilePath             string  `envconfig:"LOG_FILE_PATH"`
	JWTSecret               []byte  `envconfig:"JWT_SECRET" required:"true"`
	JWTAccessTokenExpiry    int     `envconfig:"JWT_ACCESS_EXPIRY" default:"172800"` // in seconds, default 2 days
	AdminToken              string  `envconfig:"ADMIN_TOKEN"`
	OperatorLogin           string  `envconfig:"OPERATOR_LOGIN" default:"admin"`
	OperatorPasswordHash    string  `envconfig:"OPERATOR_PASSWORD_HASH" required:"true"` // bcrypt
	Host                    string  `envconfig:"HOST" default:"localhost:8080"`
	Port                    int     `envconfig:"PORT" default:"8080"`
	Network                 string  `envconfig:"NETWORK" default:"testnet"`
	EsploraUrl              string  `envconfig:"ESPLORA_URL" default:"https://mempool.space/api"`
	ChainTimeout            int     `envconfig:"CHAIN_TIMEOUT" default:"30"`            // in seconds
	ConfirmationThreshold   int64   `envconfig:"CONFIRMATION_THRESHOLD" default:"0"`    // 0 accepts mempool payments
	SignerBridgeUrl         string  `envconfig:"SIGNER_BRIDGE_URL" default:"http://127.0.0.1:21325"`
	SignTimeout             int     `envconfig:"SIGN_TIMEOUT" default:"60"` // in seconds, on-device confirmation
	WebhookUrl              string  `envconfig:"WEBHOOK_URL"`
	WebhookSecret           string  `envconfig:"WEBHOOK_SECRET"`
	WebhookRetryMaxElapsed  int     `envconfig:"WEBHOOK_RETRY_MAX_ELAPSED" default:"60"` // in seconds
	InvoicePollInterval     int     `envconfig:"INVOICE_POLL_INTERVAL" default:"30"`     // in seconds
	DefaultRateLimit        int     `envconfig:"DEFAULT_RATE_LIMIT" default:"10"`
	StrictRateLimit         int     `envconfig:"STRICT_RATE_LIMIT" default:"10"`
	BurstRateLimit          int     `envconfig:"BURST_RATE_LIMIT" default:"1"`
	EnablePrometheus        bool    `envconfig:"ENABLE_PROMETHEUS" default:"false"`
	PrometheusPort          int     `envconfig:"PROMETHEUS_PORT" default:"9092"`
	RabbitMQUri             string  `envconfig:"RABBITMQ_URI"`
	RabbitMQInvoiceExchange string  `envconfig:"RABBITMQ_INVOICE_EXCHANGE" default:"btcpay_invoice"`
}
