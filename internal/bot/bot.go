// Package bot is the Telegram-facing edge of the service: the update loop,
// the resolution keyboard, and the outbound transport the pipeline
// delivers results through.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/resobot/api/internal/job"
	"github.com/resobot/api/internal/model"
)

// offerTTL bounds how long a resolution keyboard stays actionable.
const offerTTL = 10 * time.Minute

const callbackPrefix = "res:"

// allOption is the keyboard entry that expands to every known resolution.
const allOption = "all"

const welcomeText = `Video Converter Bot

Send me a video and I will convert it to the resolutions you pick:
144p, 240p, 360p, 480p or 720p, or all of them at once.

Just send your video to start.`

const helpText = `How it works:
1. Send a video file
2. Choose one resolution or "All resolutions"
3. Receive the converted videos back

Commands:
/start - welcome message
/help - this message
/status - service status

One video per user at a time. A second video sent while the first is
still processing is rejected, not queued.`

// offer holds the video a user sent until they pick resolutions.
type offer struct {
	src     model.SourceDescriptor
	chatID  int64
	userID  int64
	created time.Time
}

// Capabilities is what the bot needs to know about the fetch layer to
// vet a video before offering the keyboard.
type Capabilities struct {
	StandardMax    int64
	LargeAvailable bool
}

// Bot consumes Telegram updates and submits jobs to the coordinator.
type Bot struct {
	api   *tgbotapi.BotAPI
	coord *job.Coordinator
	caps  Capabilities

	mu     sync.Mutex
	offers map[string]offer
}

func New(api *tgbotapi.BotAPI, coord *job.Coordinator, caps Capabilities) *Bot {
	return &Bot{
		api:    api,
		coord:  coord,
		caps:   caps,
		offers: make(map[string]offer),
	}
}

// Run consumes the long-poll update channel until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := b.api.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(update.Message)
	case update.Message != nil:
		b.handleMessage(update.Message)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, welcomeText)
	case "help":
		b.reply(msg.Chat.ID, helpText)
	case "status":
		b.reply(msg.Chat.ID, b.statusText())
	default:
		b.reply(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (b *Bot) statusText() string {
	largeSupport := "not configured"
	if b.caps.LargeAvailable {
		largeSupport = "enabled"
	}
	return fmt.Sprintf(
		"Service status\n\nActive jobs: %d\nStandard size limit: %d MB\nLarge file support: %s",
		b.coord.Active(), b.caps.StandardMax>>20, largeSupport,
	)
}

// handleMessage vets an incoming video and offers the resolution keyboard.
// Nothing is fetched or allocated until the user picks a resolution.
func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	src, ok := describeVideo(msg, b.caps.StandardMax)
	if !ok {
		b.reply(msg.Chat.ID, "Please send a video file.")
		return
	}

	if src.Large && !b.caps.LargeAvailable {
		b.reply(msg.Chat.ID, fmt.Sprintf(
			"File too large.\n\nYour file: %.1f MB\nMaximum allowed: %d MB\n\nPlease compress the video or send a smaller one.",
			float64(src.Size)/(1024*1024), b.caps.StandardMax>>20,
		))
		return
	}

	token := b.storeOffer(offer{
		src:     src,
		chatID:  msg.Chat.ID,
		userID:  msg.From.ID,
		created: time.Now(),
	})

	prompt := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf(
		"Video received.\n\nFile: %s\nSize: %.1f MB\n\nChoose resolutions:",
		src.FileName, float64(src.Size)/(1024*1024),
	))
	prompt.ReplyMarkup = resolutionKeyboard(token)
	if _, err := b.api.Send(prompt); err != nil {
		log.Printf("bot: send keyboard: %v", err)
	}
}

func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	// Always answer so the client stops its spinner.
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		log.Printf("bot: answer callback: %v", err)
	}

	token, choice, ok := parseCallback(q.Data)
	if !ok {
		return
	}

	off, found := b.takeOffer(token)
	if !found {
		b.editCallbackMessage(q, "Video data lost. Please send the video again.")
		return
	}

	labels := chosenLabels(choice)
	if labels == nil {
		b.editCallbackMessage(q, "Unknown resolution. Please send the video again.")
		return
	}

	jb, err := b.coord.Submit(off.userID, off.chatID, off.src, labels)
	switch {
	case errors.Is(err, job.ErrAlreadyProcessing):
		// Put the offer back and keep the keyboard attached so the user can
		// retry once the current job ends.
		b.restoreOffer(token, off)
		edit := tgbotapi.NewEditMessageTextAndMarkup(q.Message.Chat.ID, q.Message.MessageID,
			"Already processing a video for you. Please wait for it to finish, then pick again.",
			resolutionKeyboard(token))
		if _, err := b.api.Send(edit); err != nil {
			log.Printf("bot: edit callback message: %v", err)
		}
		return
	case errors.Is(err, job.ErrQuotaExceeded):
		b.editCallbackMessage(q, "Daily conversion limit reached. Please try again tomorrow.")
		return
	case err != nil:
		log.Printf("bot: submit: %v", err)
		b.editCallbackMessage(q, "Could not start processing. Please try again.")
		return
	}

	b.editCallbackMessage(q, fmt.Sprintf(
		"Starting processing.\n\nFile: %s\nTarget: %s",
		off.src.FileName, choiceText(choice),
	))
	log.Printf("bot: job %s submitted for user %d (%s)", jb.ID, off.userID, choiceText(choice))
}

func (b *Bot) editCallbackMessage(q *tgbotapi.CallbackQuery, text string) {
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		log.Printf("bot: edit callback message: %v", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("bot: reply: %v", err)
	}
}

func (b *Bot) storeOffer(off offer) string {
	token := uuid.New().String()[:8]
	b.mu.Lock()
	b.offers[token] = off
	// Opportunistic sweep of expired offers.
	for k, v := range b.offers {
		if time.Since(v.created) > offerTTL {
			delete(b.offers, k)
		}
	}
	b.mu.Unlock()
	return token
}

func (b *Bot) takeOffer(token string) (offer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, ok := b.offers[token]
	if !ok || time.Since(off.created) > offerTTL {
		delete(b.offers, token)
		return offer{}, false
	}
	delete(b.offers, token)
	return off, true
}

func (b *Bot) restoreOffer(token string, off offer) {
	b.mu.Lock()
	b.offers[token] = off
	b.mu.Unlock()
}

// describeVideo extracts a source descriptor from a video or a
// video-as-document message.
func describeVideo(msg *tgbotapi.Message, standardMax int64) (model.SourceDescriptor, bool) {
	switch {
	case msg.Video != nil:
		name := msg.Video.FileName
		if name == "" {
			name = "video.mp4"
		}
		size := int64(msg.Video.FileSize)
		return model.SourceDescriptor{
			FileID:   msg.Video.FileID,
			FileName: name,
			Size:     size,
			Large:    size > standardMax,
		}, true
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "video/"):
		size := int64(msg.Document.FileSize)
		return model.SourceDescriptor{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			Size:     size,
			Large:    size > standardMax,
		}, true
	}
	return model.SourceDescriptor{}, false
}

// resolutionKeyboard lays out the choices two per row, with the
// all-resolutions shortcut on its own final row.
func resolutionKeyboard(token string) tgbotapi.InlineKeyboardMarkup {
	button := func(label string) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(label, callbackPrefix+token+":"+label)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, label := range model.ValidResolutions {
		row = append(row, button(string(label)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("All resolutions", callbackPrefix+token+":"+allOption),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// parseCallback splits "res:<token>:<choice>" callback data.
func parseCallback(data string) (token, choice string, ok bool) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(data, callbackPrefix)
	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// chosenLabels maps a keyboard choice to the resolution list to convert.
// Returns nil for a choice that names no known resolution.
func chosenLabels(choice string) []model.ResolutionLabel {
	if choice == allOption {
		return append([]model.ResolutionLabel(nil), model.ValidResolutions...)
	}
	label := model.ResolutionLabel(choice)
	if _, err := model.LookupProfile(label); err != nil {
		return nil
	}
	return []model.ResolutionLabel{label}
}

func choiceText(choice string) string {
	if choice == allOption {
		return "All resolutions"
	}
	return choice
}
