package webhook

import (
	"context"
	"strconv"
	"time"

	"salonbot/internal/classifier"
	"salonbot/internal/config"
	"salonbot/internal/domain"
	"salonbot/internal/metrics"
	"salonbot/internal/models"
	"salonbot/internal/service"
	"salonbot/internal/whatsapp"

	"github.com/rs/zerolog"
)

// Dialogue is the part of the dialogue engine the processor drives.
type Dialogue interface {
	HandleBookingRequest(ctx context.Context, customerID, text, language string) *service.Response
	HandleButtonClick(ctx context.Context, customerID, buttonID, languageOverride string) *service.Response
	HandleConversation(ctx context.Context, customerID, text, language string) *service.Response
}

// Processor turns validated webhook deliveries into dialogue turns: dedup,
// rate limit, language resolution, classification, dispatch and delivery of
// the decided response.
type Processor struct {
	sessions   domain.SessionManager
	markers    domain.SessionRepository
	classifier *classifier.Classifier
	dialogue   Dialogue
	detector   domain.LanguageDetector
	sender     domain.MessageSender
	journal    domain.JournalWriter
	cfg        *config.Config
	logger     *zerolog.Logger
}

func NewProcessor(
	sessions domain.SessionManager,
	markers domain.SessionRepository,
	cls *classifier.Classifier,
	dialogue Dialogue,
	detector domain.LanguageDetector,
	sender domain.MessageSender,
	journal domain.JournalWriter,
	cfg *config.Config,
	logger *zerolog.Logger,
) *Processor {
	return &Processor{
		sessions:   sessions,
		markers:    markers,
		classifier: cls,
		dialogue:   dialogue,
		detector:   detector,
		sender:     sender,
		journal:    journal,
		cfg:        cfg,
		logger:     logger,
	}
}

// Process walks every entry of a webhook delivery. Errors never propagate:
// the platform already got its 200, everything here is best effort.
func (p *Processor) Process(ctx context.Context, payload *whatsapp.WebhookPayload) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, status := range change.Value.Statuses {
				p.processStatus(ctx, status)
			}
			for _, msg := range change.Value.Messages {
				p.processMessage(ctx, msg)
			}
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, msg whatsapp.Message) {
	log := p.logger.With().Str("message_id", msg.ID).Str("from", msg.From).Logger()

	// Один медленный коллаборатор не должен держать обработку бесконечно
	if timeout := p.cfg.CallTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fresh, err := p.markers.MarkProcessed(ctx, msg.ID, p.cfg.DedupRetention())
	if err != nil {
		// Хранилище недоступно: лучше обработать дубль, чем потерять сообщение
		log.Warn().Err(err).Msg("Дедупликация недоступна, обрабатываем без неё")
	} else if !fresh {
		metrics.IncDedupHit()
		log.Debug().Msg("Повторная доставка, пропускаем")
		return
	}

	allowed, err := p.markers.CheckRateLimit(ctx, msg.From,
		p.cfg.Bot.RateLimitMessages, time.Duration(p.cfg.Bot.RateLimitWindow)*time.Second)
	if err == nil && !allowed {
		log.Warn().Msg("Превышен лимит сообщений от отправителя, молча пропускаем")
		return
	}

	kind := models.MessageKindText
	text := ""
	switch {
	case msg.Type == "interactive" && msg.Interactive != nil:
		kind = models.MessageKindInteractive
	case msg.Text != nil:
		text = msg.Text.Body
	default:
		// Стикеры, аудио и прочее: вежливо переводим в беседу
		log.Debug().Str("type", msg.Type).Msg("Неподдерживаемый тип сообщения")
	}

	language, override := p.resolveLanguage(ctx, msg.From, text, kind)

	intent := p.classifier.Classify(kind, text, language)
	metrics.IncClassified(string(intent))

	var resp *service.Response
	switch intent {
	case classifier.IntentButtonClick:
		resp = p.dialogue.HandleButtonClick(ctx, msg.From, msg.ReplyID(), override)
	case classifier.IntentBookingRequest:
		resp = p.dialogue.HandleBookingRequest(ctx, msg.From, text, language)
	default:
		resp = p.dialogue.HandleConversation(ctx, msg.From, text, language)
	}

	if err := p.journal.RecordInbound(ctx, msg.ID, msg.From, kind, string(intent)); err != nil {
		log.Warn().Err(err).Msg("Не удалось записать сообщение в журнал")
	}

	p.deliver(ctx, msg.From, resp, log)
}

// resolveLanguage returns the reply language and, for fresh confident
// detections, an override to persist into the session.
func (p *Processor) resolveLanguage(ctx context.Context, customerID, text, kind string) (string, string) {
	if kind == models.MessageKindText && text != "" && p.detector != nil {
		detected, confidence, err := p.detector.Detect(ctx, text)
		if err == nil && confidence >= p.cfg.NLU.MinConfidence && models.SupportedLanguage(detected) {
			return detected, detected
		}
	}

	if session, err := p.sessions.GetSession(ctx, customerID); err == nil && session != nil && session.Language != "" {
		return session.Language, ""
	}
	return p.cfg.Bot.DefaultLanguage, ""
}

func (p *Processor) deliver(ctx context.Context, to string, resp *service.Response, log zerolog.Logger) {
	if resp == nil {
		return
	}
	if resp.Text != "" {
		if _, err := p.sender.SendText(ctx, to, resp.Text); err != nil {
			log.Error().Err(err).Msg("Не удалось отправить текстовый ответ")
		}
	}
	if resp.Interactive != nil {
		if _, err := p.sender.SendInteractive(ctx, to, resp.Interactive); err != nil {
			log.Error().Err(err).Msg("Не удалось отправить интерактивное сообщение")
		}
	}
}

func (p *Processor) processStatus(ctx context.Context, status whatsapp.Status) {
	metrics.IncDeliveryStatus(status.Status)

	occurred := time.Now().UTC()
	if ts, err := strconv.ParseInt(status.Timestamp, 10, 64); err == nil {
		occurred = time.Unix(ts, 0).UTC()
	}
	if err := p.journal.RecordStatus(ctx, status.ID, status.RecipientID, status.Status, occurred); err != nil {
		p.logger.Warn().Err(err).Str("message_id", status.ID).Msg("Не удалось записать статус доставки")
	}
}
