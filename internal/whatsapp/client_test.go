package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"salonbot/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.WhatsAppConfig{
		AccessToken:   "test-token",
		PhoneNumberID: "12345",
		APIBaseURL:    srv.URL,
		APIVersion:    "v23.0",
		SendRPS:       1000,
		SendBurst:     1000,
	}
	client := NewClient(cfg, zerolog.Nop())
	client.retry.InitialDelay = 0
	return client, srv
}

func okResponse(w http.ResponseWriter, id string) {
	resp := SendResponse{Messages: []SendResponseMessage{{ID: id}}}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestClientSendText(t *testing.T) {
	var gotPath string
	var gotAuth string
	var gotBody SendMessageRequest

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		okResponse(w, "wamid.out1")
	})

	id, err := client.SendText(context.Background(), "79001234567", "hello")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out1", id)
	assert.Equal(t, "/v23.0/12345/messages", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "text", gotBody.Type)
	assert.Equal(t, "hello", gotBody.Text.Body)
	assert.Equal(t, "79001234567", gotBody.To)
}

func TestClientSendInteractive(t *testing.T) {
	var gotBody SendMessageRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		okResponse(w, "wamid.out2")
	})

	payload := &Interactive{
		Type: "button",
		Body: InteractiveBody{Text: "pick one"},
		Action: InteractiveAction{Buttons: []Button{
			{Type: "reply", Reply: ButtonReplyOption{ID: "slot_1_2", Title: "10:00"}},
		}},
	}

	id, err := client.SendInteractive(context.Background(), "79001234567", payload)
	require.NoError(t, err)
	assert.Equal(t, "wamid.out2", id)
	assert.Equal(t, "interactive", gotBody.Type)
	require.NotNil(t, gotBody.Interactive)
	assert.Equal(t, "slot_1_2", gotBody.Interactive.Action.Buttons[0].Reply.ID)
}

func TestClientRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		okResponse(w, "wamid.out3")
	})

	id, err := client.SendText(context.Background(), "79001234567", "hi")
	require.NoError(t, err)
	assert.Equal(t, "wamid.out3", id)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(ErrorResponse{})
	})

	_, err := client.SendText(context.Background(), "79001234567", "hi")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMessageReplyID(t *testing.T) {
	t.Run("ButtonReply", func(t *testing.T) {
		m := &Message{Interactive: &InteractiveContent{ButtonReply: &ButtonReply{ID: "slot_1_2"}}}
		assert.Equal(t, "slot_1_2", m.ReplyID())
	})
	t.Run("ListReply", func(t *testing.T) {
		m := &Message{Interactive: &InteractiveContent{ListReply: &ListReply{ID: "slot_3_4"}}}
		assert.Equal(t, "slot_3_4", m.ReplyID())
	})
	t.Run("NoInteractive", func(t *testing.T) {
		m := &Message{}
		assert.Equal(t, "", m.ReplyID())
	})
}
