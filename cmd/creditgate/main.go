package main

import (
	"context"
	"strings"
	"time"

	"creditgate/internal/chain/bitcoin"
	"creditgate/internal/chain/ethereum"
	"creditgate/internal/handlers"
	"creditgate/internal/payments"
	"creditgate/internal/wallet"
	"creditgate/pkg/auth"
	"creditgate/pkg/config"
	"creditgate/pkg/crypto"
	"creditgate/pkg/database"
	"creditgate/pkg/kafka"
	"creditgate/pkg/logging"
	"creditgate/pkg/monitoring"
	"creditgate/pkg/server"
	"creditgate/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("creditgate")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Creditgate (Crypto Payment Reconciliation)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	hdWalletKey := config.RequireEnv("HD_WALLET_KEY")
	credentialSecret := config.RequireEnv("CREDENTIAL_SECRET")

	assetSymbol := config.GetEnv("CHAIN_ASSET", "BTC")
	assetCfg, err := payments.AssetBySymbol(assetSymbol)
	if err != nil {
		logger.WithError(err).Fatal("Invalid CHAIN_ASSET")
	}

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.ApplySchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	// Signing credentials are AES-GCM encrypted at rest with a key derived
	// from the credential secret.
	encryptor, err := crypto.DeriveFieldEncryptor([]byte(credentialSecret), "signing-credential")
	if err != nil {
		logger.WithError(err).Fatal("Failed to derive credential encryptor")
	}

	// Address issuer: BIP32 child derivation from the env-held account key.
	issuer, err := wallet.NewIssuer(db, hdWalletKey, assetCfg.Symbol, encryptor, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize address issuer")
	}
	if err := issuer.EnsureState(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to initialize wallet state")
	}

	// Chain adapters for the configured asset.
	chainTimeout := config.GetEnvDuration("CHAIN_TIMEOUT_SECONDS", time.Second, 15*time.Second)
	var ledger payments.LedgerSource
	var broadcaster payments.Broadcaster
	var providerURL string
	switch assetCfg.Symbol {
	case "BTC":
		apiURL := config.GetEnv("BLOCKCYPHER_API_URL", "https://api.blockcypher.com/v1/btc/main")
		client := bitcoin.NewClient(apiURL, config.GetEnv("BLOCKCYPHER_API_KEY", ""), chainTimeout, encryptor, logger)
		ledger = client
		broadcaster = client
		providerURL = apiURL
	case "ETH":
		explorerURL := config.GetEnv("ETHERSCAN_API_URL", "https://api.etherscan.io/api")
		rpcEndpoint := config.RequireEnv("ETH_RPC_ENDPOINT")
		ledger = ethereum.NewLedgerClient(explorerURL, config.GetEnv("ETHERSCAN_API_KEY", ""), rpcEndpoint, chainTimeout, logger)
		broadcaster = ethereum.NewBroadcaster(rpcEndpoint, encryptor, logger)
		providerURL = explorerURL
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("creditgate", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("creditgate", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("chain_provider", monitoring.ChainProviderHealthCheck(assetCfg.Symbol, providerURL))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":      dbURL,
		"JWT_SECRET":        jwtSecret,
		"HD_WALLET_KEY":     hdWalletKey,
		"CREDENTIAL_SECRET": credentialSecret,
	}))

	paymentsTotal, paymentsOpen, cycleDuration := metricsCollector.CreatePaymentMetrics()

	// Optional Kafka lifecycle events.
	var publisher payments.EventPublisher
	if brokers := config.GetEnv("KAFKA_BROKERS", ""); brokers != "" {
		producer, err := kafka.NewProducer(strings.Split(brokers, ","), logger)
		if err != nil {
			logger.WithError(err).Warn("Kafka unavailable, payment events disabled")
		} else {
			defer producer.Close()
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
			publisher = producer
		}
	}
	events := payments.NewEvents(publisher, logger)

	// Core engine wiring.
	credits := payments.NewCreditsLedger(db)
	store := payments.NewStore(db, credits)
	monitor := payments.NewMonitor(ledger,
		config.GetEnvInt64("REQUIRED_CONFIRMATIONS", assetCfg.DefaultConfirmations), logger)
	forwarder := payments.NewForwarder(ledger, broadcaster,
		config.GetEnv("COLD_WALLET_ADDRESS", ""),
		config.GetEnvInt64("NETWORK_FEE_UNITS", assetCfg.DefaultFeeUnits), logger)

	rateOracle := payments.NewRateOracle(
		config.GetEnv("RATE_API_URL", "https://api.coingecko.com/api/v3"),
		assetCfg.RateID,
		config.GetEnv("PRICING_CURRENCY", "EUR"),
		chainTimeout, logger)

	reconciler := payments.NewReconciler(store, monitor, forwarder, events, payments.ReconcilerConfig{
		Interval:         config.GetEnvDuration("RECONCILE_INTERVAL_SECONDS", time.Second, 30*time.Second),
		Workers:          config.GetEnvInt("RECONCILE_WORKERS", 4),
		MaxSweepAttempts: config.GetEnvInt("MAX_SWEEP_ATTEMPTS", 10),
		CycleObserver: func(seconds float64) {
			cycleDuration.WithLabelValues("full").Observe(seconds)
		},
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := reconciler.Start(ctx); err != nil {
			logger.WithError(err).Error("Reconciler failed to start")
		}
	}()
	defer reconciler.Stop()

	// Keep the open-payments gauge current.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				counts, err := store.CountOpenByAsset(ctx)
				if err != nil {
					logger.WithError(err).Debug("Failed to count open payments")
					continue
				}
				for asset, n := range counts {
					paymentsOpen.WithLabelValues(asset).Set(float64(n))
				}
			}
		}
	}()

	// Initialize handlers
	handlers.Init(logger, &handlers.GateMetrics{
		PaymentsTotal: paymentsTotal,
		PaymentsOpen:  paymentsOpen,
	}, store, credits, issuer, rateOracle, assetCfg, handlers.PricingConfig{
		Currency:        config.GetEnv("PRICING_CURRENCY", "EUR"),
		CreditPriceCent: config.GetEnvInt64("CREDIT_PRICE_CENTS", 2),
		ExpiryMinutes:   config.GetEnvInt("PAYMENT_EXPIRY_MINUTES", 60),
	})

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "creditgate", healthChecker, metricsCollector)

	// Public endpoints
	router.GET("/packages", handlers.GetPackages)

	// Authentication required endpoints
	protected := router.Group("")
	protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
	{
		protected.POST("/payments", handlers.CreatePayment)
		protected.GET("/payments", handlers.ListPayments)
		protected.GET("/payments/:id", handlers.GetPayment)
		protected.POST("/payments/:id/sweep", handlers.TriggerSweep)
		protected.GET("/credits/balance", handlers.GetBalance)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("creditgate", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
