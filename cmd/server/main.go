package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/btcpayd/btcpayd/chain"
	"github.com/btcpayd/btcpayd/db"
	"github.com/btcpayd/btcpayd/db/migrations"
	"github.com/btcpayd/btcpayd/lib"
	"github.com/btcpayd/btcpayd/lib/service"
	"github.com/btcpayd/btcpayd/lib/tokens"
	"github.com/btcpayd/btcpayd/lib/transport"
	"github.com/btcpayd/btcpayd/rabbitmq"
	"github.com/btcpayd/btcpayd/signer"
	"github.com/btcpayd/btcpayd/wallet"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/uptrace/bun/migrate"
)

// @title        btcpayd
// @version      0.1.0
// @description  Self-hosted Bitcoin invoice and payment server with hardware-backed signing.

// @BasePath  /

// @securitydefinitions.oauth2.password  OAuth2Password
// @tokenUrl                             /auth
// @schemes                              https http
func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := lib.Logger(c.LogFilePath)

	//Todo: use timeout for startupcontext
	startupCtx := context.Background()

	// Open a DB connection based on the configured DATABASE_URI,
	// or fall back to the in-memory store for development setups.
	var store db.InvoiceStore
	if c.DatabaseUri != "" {
		dbConn, err := db.Open(db.Config{
			DatabaseUri:             c.DatabaseUri,
			DatabaseMaxConns:        c.DatabaseMaxConns,
			DatabaseMaxIdleConns:    c.DatabaseMaxIdleConns,
			DatabaseConnMaxLifetime: c.DatabaseConnMaxLifetime,
		})
		if err != nil {
			logger.Fatalf("Error initializing db connection: %v", err)
		}
		defer dbConn.Close()

		// Migrate the DB
		migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
		err = migrator.Init(startupCtx)
		if err != nil {
			logger.Fatalf("Error initializing db migrator: %v", err)
		}
		_, err = migrator.Migrate(startupCtx)
		if err != nil {
			logger.Fatalf("Error migrating database: %v", err)
		}
		store = db.NewBunInvoiceStore(dbConn)
	} else {
		logger.Info("No DATABASE_URI configured, running on the in-memory store")
		store = db.NewMemoryInvoiceStore()
	}

	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	params, err := wallet.NetworkParams(c.Network)
	if err != nil {
		logger.Fatalf("Error loading network params: %v", err)
	}

	chainClient := chain.NewEsploraClient(c.EsploraUrl, time.Duration(c.ChainTimeout)*time.Second, c.ConfirmationThreshold)

	// Connect to the hardware signer bridge. An unreachable bridge is not
	// fatal at startup: invoices keep working, and sign calls reconnect
	// on demand once the device shows up.
	bridge := signer.NewBridgeClient(c.SignerBridgeUrl, params, time.Duration(c.SignTimeout)*time.Second)
	if err := bridge.Connect(startupCtx); err != nil {
		logger.Warnf("Signer bridge not available at startup: %v", err)
	} else {
		logger.Infof("Connected to signer bridge at %s", c.SignerBridgeUrl)
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// No rabbitmq features will be available in this case.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		rabbitmqClient, err = rabbitmq.Dial(c.RabbitMQUri,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithInvoiceExchange(c.RabbitMQInvoiceExchange),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
	}

	svc := &service.PayService{
		Config:         c,
		Store:          store,
		Logger:         logger,
		Chain:          chainClient,
		Signer:         bridge,
		Issuer:         wallet.NewIssuer(params, bridge),
		InvoicePubSub:  service.NewPubsub(),
		RabbitMQClient: rabbitmqClient,
	}

	//init echo server
	e := transport.InitEcho(c, logger)

	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for requests that reach the signing device
	strictRateLimitMiddleware := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)
	securedWithStrictRateLimit := e.Group("", tokens.Middleware(c.JWTSecret), strictRateLimitMiddleware, logMw)

	transport.RegisterEndpoints(svc, e, securedWithStrictRateLimit, strictRateLimitMiddleware, tokens.AdminTokenMiddleware(c.AdminToken), logMw)

	var backgroundWg sync.WaitGroup
	backGroundCtx, _ := signal.NotifyContext(context.Background(), os.Interrupt)
	// Reconcile pending invoices against the chain in the background
	backgroundWg.Add(1)
	go func() {
		err = svc.StartInvoiceCheckRoutine(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			//we want to restart in case of an error here
			svc.Logger.Fatal(err)
		}
		svc.Logger.Info("Invoice check routine done")
		backgroundWg.Done()
	}()

	//Start webhook subscription
	if svc.Config.WebhookUrl != "" {
		backgroundWg.Add(1)
		go func() {
			svc.StartWebhookSubscription(backGroundCtx, svc.Config.WebhookUrl)
			svc.Logger.Info("Webhook routine done")
			backgroundWg.Done()
		}()
	}
	//Start rabbit publisher
	if svc.RabbitMQClient != nil {
		backgroundWg.Add(1)
		go func() {
			err = svc.RabbitMQClient.StartPublishInvoices(backGroundCtx,
				svc.SubscribePaidExpiredInvoices,
				svc.EncodeInvoiceEvent,
			)
			if err != nil {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}

			svc.Logger.Info("Rabbit invoice publisher done")
			backgroundWg.Done()
		}()
	}

	//Start Prometheus server if necessary
	if svc.Config.EnablePrometheus {
		go transport.StartPrometheusEcho(logger, svc, e)
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("btcpayd exiting gracefully. Goodbye.")
}
