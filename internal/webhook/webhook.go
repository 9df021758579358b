// Package webhook implements notify.Sink by posting rendered messages to a
// Telegram bot chat, the concrete channel the original strategy notified
// through. Credentials are read from environment variables so no secrets
// need to travel through config files.
package webhook

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/atlas-desktop/settlement-arbitrage/pkg/notify"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const telegramAPI = "https://api.telegram.org/bot%s/sendMessage"

// Sink posts notifications to a Telegram chat via the bot HTTP API.
type Sink struct {
	logger *zap.Logger
	client *resty.Client
}

// New constructs a Sink with a short request timeout and a couple of
// retries, matching the REST client conventions used elsewhere in this
// codebase.
func New(logger *zap.Logger) *Sink {
	client := resty.New()
	client.SetTimeout(5 * time.Second)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(300 * time.Millisecond)

	return &Sink{logger: logger.Named("webhook"), client: client}
}

// Dispatch sends msg to the Telegram chat named by channelConfig, falling
// back to the TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID environment variables
// when channelConfig omits a "bot_token" / "chat_id" override.
func (s *Sink) Dispatch(channelConfig map[string]string, msg notify.Message) error {
	token := channelConfig["bot_token"]
	if token == "" {
		token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	chatID := channelConfig["chat_id"]
	if chatID == "" {
		chatID = os.Getenv("TELEGRAM_CHAT_ID")
	}
	if token == "" || chatID == "" {
		s.logger.Warn("telegram credentials missing, dropping notification", zap.String("title", msg.Title))
		return nil
	}

	url := fmt.Sprintf(telegramAPI, token)
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       msg.Plain,
		"parse_mode": "Markdown",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := s.client.R().SetContext(ctx).SetBody(payload).Post(url)
	if err != nil {
		return fmt.Errorf("webhook: telegram send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: telegram send: status %d", resp.StatusCode())
	}
	return nil
}
