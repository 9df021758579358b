package webhook_test

import (
	"os"
	"testing"

	"github.com/atlas-desktop/settlement-arbitrage/internal/webhook"
	"github.com/atlas-desktop/settlement-arbitrage/pkg/notify"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDispatchWithoutCredentialsDropsNotificationWithoutError(t *testing.T) {
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("TELEGRAM_CHAT_ID")

	sink := webhook.New(zap.NewNop())
	err := sink.Dispatch(map[string]string{}, notify.Message{Title: "test", Plain: "test body"})
	assert.NoError(t, err, "Dispatch without credentials should return nil")
}

func TestDispatchWithoutChatIDDropsWithoutError(t *testing.T) {
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("TELEGRAM_CHAT_ID")

	sink := webhook.New(zap.NewNop())
	// bot_token is supplied but chat_id is missing everywhere: still a
	// drop-without-error, not a partial send.
	err := sink.Dispatch(map[string]string{"bot_token": "present"}, notify.Message{Title: "t", Plain: "p"})
	assert.NoError(t, err, "Dispatch with a missing chat_id should return nil")
}
