package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/amirphl/strategy-engine/internal/utils"
)

const telegramAPI = "https://api.telegram.org"

type TelegramNotifier struct {
	Token  string
	ChatID string

	BaseURL string
	Client  *http.Client
	Retries int
	Backoff time.Duration
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		Token:   token,
		ChatID:  chatID,
		BaseURL: telegramAPI,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Retries: 3,
		Backoff: time.Second,
	}
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.Token)
	resp, err := t.Client.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// SendWithRetry retries Send with a doubling backoff.
func (t *TelegramNotifier) SendWithRetry(message string) error {
	backoff := t.Backoff
	var err error
	for attempt := 1; attempt <= max(t.Retries, 1); attempt++ {
		if err = t.Send(message); err == nil {
			return nil
		}
		utils.GetLogger().Warnf("Notifier | Telegram attempt %d/%d failed: %v", attempt, t.Retries, err)
		if attempt < t.Retries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("telegram: giving up after %d attempts: %w", max(t.Retries, 1), err)
}
