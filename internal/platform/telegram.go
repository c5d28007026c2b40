package platform

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/halcyonlabs/vigil/internal/bus"
	"github.com/halcyonlabs/vigil/internal/config"
	"github.com/halcyonlabs/vigil/internal/executor"
	"github.com/halcyonlabs/vigil/internal/world"
)

// TelegramBot is the slice of the bot API the connector uses (allows
// mocking in tests).
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetSelf() tgbotapi.User
}

type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking).
type BotFactory func(token string) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token string) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramConnector struct {
	token      string
	allowFrom  []string
	bot        TelegramBot
	bus        *bus.Bus
	botFactory BotFactory
	cancel     context.CancelFunc
}

func NewTelegramConnector(cfg config.TelegramConfig, b *bus.Bus) (*TelegramConnector, error) {
	return NewTelegramConnectorWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramConnectorWithFactory creates a connector with a custom bot
// factory (for testing).
func NewTelegramConnectorWithFactory(cfg config.TelegramConfig, b *bus.Bus, factory BotFactory) (*TelegramConnector, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	return &TelegramConnector{
		token:      cfg.Token,
		allowFrom:  cfg.AllowFrom,
		bus:        b,
		botFactory: factory,
	}, nil
}

func (t *TelegramConnector) Platform() world.Platform {
	return world.PlatformTelegram
}

func (t *TelegramConnector) Start(ctx context.Context) error {
	bot, err := t.botFactory(t.token)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(ctx, update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramConnector) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

func (t *TelegramConnector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.isAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	observed := world.Message{
		ID: strconv.Itoa(msg.MessageID),
		Sender: world.Sender{
			Username:    msg.From.UserName,
			DisplayName: strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		},
		Content:   content,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.ReplyToMessage != nil {
		observed.ReplyToID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}

	if err := t.bus.PublishMessage(ctx, world.PlatformTelegram, chatID, observed); err != nil {
		log.Printf("[telegram] publish warning: %v", err)
	}
}

func (t *TelegramConnector) isAllowed(senderID string) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, allowed := range t.allowFrom {
		if allowed == senderID {
			return true
		}
	}
	return false
}

func (t *TelegramConnector) SendMessage(ctx context.Context, channelID, content string) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", executor.InvalidInput(fmt.Errorf("telegram chat id %q: %w", channelID, err))
	}
	sent, err := t.bot.Send(tgbotapi.NewMessage(chatID, content))
	if err != nil {
		return "", classifyTelegramErr(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramConnector) Reply(ctx context.Context, channelID, messageID, content string) (string, error) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return "", executor.InvalidInput(fmt.Errorf("telegram chat id %q: %w", channelID, err))
	}
	replyTo, err := strconv.Atoi(messageID)
	if err != nil {
		return "", executor.InvalidInput(fmt.Errorf("telegram message id %q: %w", messageID, err))
	}
	msg := tgbotapi.NewMessage(chatID, content)
	msg.ReplyToMessageID = replyTo
	sent, err := t.bot.Send(msg)
	if err != nil {
		return "", classifyTelegramErr(err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (t *TelegramConnector) Post(ctx context.Context, content string) (string, error) {
	return "", executor.Permanent(fmt.Errorf("telegram has no platform-level feed"))
}

func (t *TelegramConnector) Upload(ctx context.Context, mediaURL string) (string, error) {
	return "", executor.Permanent(fmt.Errorf("telegram uploads are not supported"))
}

func classifyTelegramErr(err error) error {
	if strings.Contains(err.Error(), "Too Many Requests") {
		return executor.RateLimited(err)
	}
	if tgErr, ok := err.(*tgbotapi.Error); ok && tgErr.Code >= 400 && tgErr.Code < 500 {
		return executor.Permanent(err)
	}
	return executor.Transient(err)
}
