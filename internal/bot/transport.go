package bot

import (
	"context"
	"fmt"
	"os"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/resobot/api/internal/model"
)

// Transport wraps the Bot API client with the small outbound surface the
// rest of the service needs. It implements report.Messenger and
// job.Delivery.
type Transport struct {
	api *tgbotapi.BotAPI
}

func NewTransport(api *tgbotapi.BotAPI) *Transport {
	return &Transport{api: api}
}

// SendText sends a plain text message and returns its message ID.
func (t *Transport) SendText(chatID int64, text string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// EditText replaces the text of a previously sent message.
func (t *Transport) EditText(chatID int64, messageID int, text string) error {
	if _, err := t.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

// DeleteMessage removes a previously sent message.
func (t *Transport) DeleteMessage(chatID int64, messageID int) error {
	if _, err := t.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// SendResult uploads one converted video. The caller releases the file as
// soon as this returns, so the upload happens synchronously here.
func (t *Transport) SendResult(_ context.Context, chatID int64, path string, label model.ResolutionLabel) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat result: %w", err)
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)

	video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(path))
	video.Caption = fmt.Sprintf("%s version (%.1f MB)", label, sizeMB)
	video.SupportsStreaming = true
	if _, err := t.api.Send(video); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}
