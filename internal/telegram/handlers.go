package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suspectuso/commando-rewards/internal/config"
	"github.com/suspectuso/commando-rewards/internal/ledger"
)

// Intake receives users who contacted the bot
type Intake interface {
	RegisterPending(ctx context.Context, reg ledger.PendingRegistration) error
}

// ChannelSource returns the currently required channels
type ChannelSource interface {
	Load() *config.Settings
}

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot      *bot.Bot
	cfg      *config.Config
	channels ChannelSource
	intake   Intake
	log      *slog.Logger
}

// New creates a new telegram bot
func New(cfg *config.Config, channels ChannelSource, log *slog.Logger) (*Bot, error) {
	b := &Bot{
		cfg:      cfg,
		channels: channels,
		log:      log,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.bot = tgBot

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/admin", bot.MatchTypeExact, b.adminHandler)

	return b, nil
}

// Start starts the bot polling. Inbound users are handed to intake.
func (b *Bot) Start(ctx context.Context, intake Intake) {
	b.intake = intake
	b.bot.Start(ctx)
}

// --- Handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	b.register(ctx, update.Message.From, update.Message.Text)
	b.sendWelcome(ctx, update.Message.Chat.ID)
}

func (b *Bot) adminHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if update.Message.From.ID != b.cfg.AdminID {
		b.startHandler(ctx, tgBot, update)
		return
	}
	b.sendMessage(ctx, update.Message.Chat.ID, AdminPanelText(b.cfg.WebAppURL, b.cfg.AdminKey), nil)
}

func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	b.register(ctx, update.Message.From, "")
	b.sendWelcome(ctx, update.Message.Chat.ID)
}

// register stores the sender as a pending user unless already confirmed
func (b *Bot) register(ctx context.Context, from *models.User, text string) {
	if b.intake == nil {
		return
	}

	reg := ledger.PendingRegistration{
		ID:        from.ID,
		Username:  from.Username,
		FirstName: from.FirstName,
		LastName:  from.LastName,
		Invitor:   ParseReferral(text),
	}
	err := b.intake.RegisterPending(ctx, reg)
	if err != nil && !errors.Is(err, ledger.ErrAlreadyProcessed) {
		b.log.Error("register pending user", "user_id", from.ID, "error", err)
	}
}

func (b *Bot) sendWelcome(ctx context.Context, chatID int64) {
	var urls, titles []string
	if b.channels != nil {
		for _, ch := range b.channels.Load().RequiredChannels {
			urls = append(urls, ch.URL)
			titles = append(titles, ch.Title)
		}
	}
	b.sendMessage(ctx, chatID, WelcomeText, ChannelsKeyboard(urls, titles, b.cfg.WebAppURL))
}

// --- Helpers ---

// WelcomeText greets every user that contacts the bot
const WelcomeText = "مرحباً بك في COMMANDO! ✨\n" +
	"الرجاء الاشتراك في القنوات أدناه لتفعيل حسابك والبدء في الربح.\n" +
	"اضغط على الزر لفتح التطبيق:"

// AdminPanelText lists the admin panel links
func AdminPanelText(webAppURL, key string) string {
	return fmt.Sprintf(
		"لوحة التحكم :\n%s/admin/panel?key=%s\nقاعدة البيانات :\n%s/admin/users?key=%s",
		webAppURL, key, webAppURL, key,
	)
}

// ParseReferral extracts the referrer from "/start ref<ID>". Anything else,
// including a non-numeric payload, yields nil.
func ParseReferral(text string) *int64 {
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[0] != "/start" {
		return nil
	}
	payload, ok := strings.CutPrefix(fields[1], "ref")
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

// SendText sends an HTML notification to a chat
func (b *Bot) SendText(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		return fmt.Errorf("%w: send message to %d: %v", ledger.ErrExternalUnavailable, chatID, err)
	}
	return nil
}

// ChatMemberStatus returns the membership status of userID in a public chat
func (b *Bot) ChatMemberStatus(ctx context.Context, chat string, userID int64) (string, error) {
	member, err := b.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chat,
		UserID: userID,
	})
	if err != nil {
		return "", fmt.Errorf("%w: get chat member %s: %v", ledger.ErrExternalUnavailable, chat, err)
	}
	return string(member.Type), nil
}
