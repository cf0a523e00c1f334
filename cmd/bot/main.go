package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salonbot/internal/classifier"
	"salonbot/internal/config"
	"salonbot/internal/crm"
	"salonbot/internal/events"
	"salonbot/internal/journal"
	"salonbot/internal/logging"
	"salonbot/internal/models"
	"salonbot/internal/nlu"
	"salonbot/internal/repository"
	"salonbot/internal/service"
	"salonbot/internal/webhook"
	"salonbot/internal/whatsapp"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, services, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageJournal, err := journal.New(cfg.Journal.Path, logging.Component(&logger, "journal"))
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации журнала сообщений")
		return err
	}
	defer messageJournal.Close()

	redisClient, sessionRepo := initSessionStore(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	sessionService := service.NewSessionService(sessionRepo, cfg.Bot.DefaultLanguage, &logger)

	crmClient := crm.NewClient(cfg.CRM, logging.Component(&logger, "crm"))
	nluClient := nlu.NewClient(cfg.NLU, logging.Component(&logger, "nlu"))
	sender := whatsapp.NewClient(cfg.WhatsApp, logging.Component(&logger, "whatsapp"))

	eventBus := events.NewEventBus()
	subscribeDialogueEvents(eventBus, &logger)

	dialogue := service.NewDialogueService(
		sessionService, sessionRepo, crmClient, crmClient,
		nluClient, nluClient, eventBus, cfg, &logger,
	)

	cls := classifier.New(services, logging.Component(&logger, "classifier"))
	validator := webhook.NewSignatureValidator(cfg.WhatsApp, cfg.App.Environment, logging.Component(&logger, "webhook"))
	processor := webhook.NewProcessor(sessionService, sessionRepo, cls, dialogue, nluClient, sender, messageJournal, cfg, &logger)
	server := webhook.NewServer(cfg, validator, processor, messageJournal, storePinger{redisClient}, &logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info().Str("env", cfg.App.Environment).Msg("Бот запущен...")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Ошибка остановки вебхук-сервера")
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.Service, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "bot-main").Logger()

	servicesPath := os.Getenv("SERVICES_PATH")
	if servicesPath == "" {
		servicesPath = "configs/services.yaml"
	}
	servicesData, err := os.ReadFile(servicesPath)
	if err != nil {
		logger.Error().Err(err).Msgf("Ошибка чтения %s", servicesPath)
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var servicesConfig struct {
		Services []models.Service `yaml:"services"`
	}
	if err := yaml.Unmarshal(servicesData, &servicesConfig); err != nil {
		logger.Error().Err(err).Msg("Ошибка парсинга services.yaml")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	if err := config.ValidateServices(servicesConfig.Services); err != nil {
		logger.Error().Err(err).Msg("Services validation failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, servicesConfig.Services, logger, closer, nil
}

func initSessionStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverSessionRepository) {
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = repository.NewRedisClient(cfg.Redis)
		if errPing := repository.Ping(ctx, redisClient); errPing != nil {
			logger.Warn().Err(errPing).Msg("Redis недоступен, сессии пока в памяти")
		}
	}

	primary := repository.NewRedisSessionRepository(redisClient, cfg.SessionTTL())
	fallback := repository.NewMemorySessionRepository(cfg.SessionTTL())
	return redisClient, repository.NewFailoverSessionRepository(primary, fallback, logger)
}

// storePinger adapts the Redis client to the health endpoint.
type storePinger struct {
	client *redis.Client
}

func (p storePinger) Ping(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return repository.Ping(ctx, p.client)
}

func subscribeDialogueEvents(eventBus *events.EventBus, logger *zerolog.Logger) {
	eventLogger := logger.With().Str("component", "events").Logger()

	eventBus.Subscribe(events.EventBookingConfirmed, func(event *events.Event) error {
		eventLogger.Info().RawJSON("payload", event.Payload).Msg("Бронирование подтверждено")
		return nil
	})
	eventBus.Subscribe(events.EventBookingConflict, func(event *events.Event) error {
		eventLogger.Warn().RawJSON("payload", event.Payload).Msg("Конфликт слота при подтверждении")
		return nil
	})
	eventBus.Subscribe(events.EventSessionExpired, func(event *events.Event) error {
		eventLogger.Debug().RawJSON("payload", event.Payload).Msg("Клик по истёкшей сессии")
		return nil
	})
}
