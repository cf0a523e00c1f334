package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"salonbot/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestSignatureValidator(t *testing.T) {
	cfg := config.WhatsAppConfig{WebhookSecret: "topsecret"}
	v := NewSignatureValidator(cfg, "production", zerolog.Nop())
	body := []byte(`{"object":"whatsapp_business_account"}`)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, v.Validate(sign("topsecret", body), body))
	})

	t.Run("wrong secret", func(t *testing.T) {
		assert.False(t, v.Validate(sign("othersecret", body), body))
	})

	t.Run("tampered body", func(t *testing.T) {
		assert.False(t, v.Validate(sign("topsecret", body), []byte(`{"object":"evil"}`)))
	})

	t.Run("missing header", func(t *testing.T) {
		assert.False(t, v.Validate("", body))
	})

	t.Run("missing prefix", func(t *testing.T) {
		raw := sign("topsecret", body)
		assert.False(t, v.Validate(raw[len("sha256="):], body))
	})

	t.Run("not hex", func(t *testing.T) {
		assert.False(t, v.Validate("sha256=zzzz", body))
	})
}

func TestSignatureValidator_EmptySecretFailsClosed(t *testing.T) {
	v := NewSignatureValidator(config.WhatsAppConfig{}, "production", zerolog.Nop())
	body := []byte("{}")
	assert.False(t, v.Validate(sign("", body), body))
}

func TestSignatureValidator_DevSkip(t *testing.T) {
	cfg := config.WhatsAppConfig{InsecureSkipSignature: true}

	t.Run("development", func(t *testing.T) {
		v := NewSignatureValidator(cfg, "development", zerolog.Nop())
		assert.True(t, v.Validate("", []byte("{}")))
	})

	t.Run("ignored in production", func(t *testing.T) {
		v := NewSignatureValidator(cfg, "production", zerolog.Nop())
		assert.False(t, v.Validate("", []byte("{}")))
	})
}
