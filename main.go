package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/accountant"
	"hma-trading-bot/internal/api"
	"hma-trading-bot/internal/apikeys"
	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/events"
	"hma-trading-bot/internal/gateway"
	"hma-trading-bot/internal/logging"
	"hma-trading-bot/internal/marketdata"
	"hma-trading-bot/internal/monitor"
	"hma-trading-bot/internal/resolver"
	"hma-trading-bot/internal/store"
	"hma-trading-bot/internal/vault"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	logger := logging.Setup(cfg.LoggingConfig)
	logger.Info().Bool("dry_run", cfg.BrokerConfig.DryRun).Msg("starting hma trading bot")

	eventBus := events.NewEventBus()

	// Persistence: postgres when configured, otherwise in-memory
	ctx := context.Background()
	var stateStore store.StateStore
	if cfg.DatabaseConfig.Enabled {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseConfig, logging.Component(logger, "store"))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		stateStore = pg
	} else {
		logger.Warn().Msg("no database configured, state is in-memory only")
		stateStore = store.NewMemoryStore()
	}
	defer stateStore.Close()

	mirror := store.NewRedisMirror(cfg.RedisConfig, logging.Component(logger, "mirror"))
	defer mirror.Close()

	// Broker credential storage
	vaultClient, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create vault client")
	}
	keyService := apikeys.NewService(vaultClient)

	// Quote layer: governor -> cache -> source
	governor := marketdata.NewRateGovernor(cfg.QuoteConfig.MaxPerSecond, cfg.QuoteConfig.MaxPerMinute)
	var source marketdata.Source
	if cfg.BrokerConfig.DryRun {
		source = marketdata.NewSimulatedSource(nil)
	} else {
		source = marketdata.NewHTTPSource(cfg.BrokerConfig.BaseURL, cfg.BrokerConfig.APIKey,
			time.Duration(cfg.BrokerConfig.BulkTimeout)*time.Second)
	}
	quotes := marketdata.NewQuoteService(source, marketdata.NewQuoteCache(), governor,
		cfg.QuoteConfig, cfg.MonitorConfig.BreakerCooldown(), logging.Component(logger, "quotes"))

	// Order gateway and push stream
	var orderGateway gateway.OrderGateway
	var stream *gateway.OrderEventStream
	if cfg.BrokerConfig.DryRun {
		orderGateway = gateway.NewMockGateway()
	} else {
		orderGateway = gateway.NewHTTPGateway(cfg.BrokerConfig.BaseURL, cfg.BrokerConfig.APIKey,
			cfg.BrokerConfig.SecretKey, time.Duration(cfg.BrokerConfig.CallTimeout)*time.Second,
			logging.Component(logger, "gateway"))
		stream = gateway.NewOrderEventStream(cfg.BrokerConfig.StreamURL, cfg.BrokerConfig.APIKey)
		stream.SetOrderEventCallback(eventBus.PublishOrderEvent)
	}

	instruments := make(map[string]resolver.Entry, len(cfg.Instruments))
	for name, inst := range cfg.Instruments {
		instruments[name] = resolver.Entry{
			SymbolTemplate: inst.SymbolTemplate,
			LotSize:        inst.LotSize,
			TickSize:       inst.TickSize,
			StrikeStep:     inst.StrikeStep,
		}
	}

	eng := engine.NewEngine(orderGateway, resolver.NewTableResolver(instruments),
		cfg.EngineConfig, logging.Component(logger, "engine"))
	acc := accountant.NewAccountant(orderGateway, quotes, logging.Component(logger, "accountant"))

	var schedulerStream monitor.EventStream
	if stream != nil {
		schedulerStream = stream
	}
	scheduler := monitor.NewScheduler(stateStore, quotes, governor, eng, acc,
		schedulerStream, mirror, monitor.NewRealClock(),
		cfg.MonitorConfig, cfg.IndicatorConfig, logging.Component(logger, "monitor"))

	// Push events reach the state machine through the bus
	eventBus.Subscribe(events.EventOrderUpdate, func(ev events.Event) {
		if orderEvent, ok := ev.Data.(gateway.OrderEvent); ok {
			scheduler.HandleOrderEvent(orderEvent)
		}
	})

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start scheduler")
	}

	server := api.NewServer(cfg.ServerConfig, cfg.AuthConfig, scheduler, eng,
		stateStore, quotes, keyService, mirror, eventBus, logging.Component(logger, "api"))
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	if err := scheduler.Stop(); err != nil {
		logger.Warn().Err(err).Msg("scheduler stop")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api shutdown")
	}
	logger.Info().Msg("goodbye")
}
