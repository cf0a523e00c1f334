package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"salonbot/internal/config"

	"github.com/rs/zerolog"
)

// SignatureValidator checks the X-Hub-Signature-256 header against the raw
// request body. Validation happens on the exact bytes received, before any
// JSON parsing.
type SignatureValidator struct {
	secret []byte
	skip   bool
	logger zerolog.Logger
}

func NewSignatureValidator(cfg config.WhatsAppConfig, environment string, logger zerolog.Logger) *SignatureValidator {
	skip := cfg.InsecureSkipSignature && environment == "development"
	if skip {
		logger.Warn().Msg("Проверка подписи вебхука ОТКЛЮЧЕНА, допустимо только в development")
	}
	return &SignatureValidator{
		secret: []byte(cfg.WebhookSecret),
		skip:   skip,
		logger: logger,
	}
}

// Validate reports whether the header authenticates body. A missing header,
// a malformed header or an unconfigured secret all fail closed.
func (v *SignatureValidator) Validate(header string, body []byte) bool {
	if v.skip {
		v.logger.Warn().Msg("Вебхук принят без проверки подписи")
		return true
	}
	if len(v.secret) == 0 {
		return false
	}

	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	decoded, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return hmac.Equal(decoded, mac.Sum(nil))
}
