// Package telegram provides the Telegram delivery channel: generation
// commands in, finished media out.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/aviv90/tasker-server-sub010/internal/config"
	"github.com/aviv90/tasker-server-sub010/internal/gateway"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/media"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// generateCeiling caps one command's synchronous escalation time.
const generateCeiling = 10 * time.Minute

// Bot represents the Telegram channel
type Bot struct {
	bot    *tele.Bot
	gw     *gateway.Gateway
	config *config.TelegramConfig

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Telegram bot
func New(cfg *config.TelegramConfig, gw *gateway.Gateway) (*Bot, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token not configured")
	}

	pref := tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	bot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	L_debug("telegram: bot created",
		"username", bot.Me.Username,
		"id", bot.Me.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		bot:    bot,
		gw:     gw,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	b.setupHandlers()
	return b, nil
}

// Start begins long polling
func (b *Bot) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.ctx = runCtx
	b.cancel = cancel
	L_info("starting telegram bot")
	go b.bot.Start()
	return nil
}

// Stop halts polling
func (b *Bot) Stop() error {
	L_info("stopping telegram bot")
	b.cancel()
	b.bot.Stop()
	return nil
}

// Name returns the channel identifier
func (b *Bot) Name() string {
	return "telegram"
}

// setupHandlers registers command handlers
func (b *Bot) setupHandlers() {
	b.bot.Handle("/start", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		return c.Send("Hi! I turn prompts into images, video and music. Send /help for the commands.")
	})

	b.bot.Handle("/help", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		help := `Commands:
/image <prompt> - generate an image
/edit <instructions> - edit a photo (reply to one, or use as its caption)
/video <prompt> - generate a video clip
/animate <motion> - animate a photo (reply to one, or use as its caption)
/music <prompt> - generate a song (-i for instrumental)
/tasks - show work in flight
/providers - show the configured services`
		return c.Send(help)
	})

	b.bot.Handle("/image", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		return b.submit(c, types.KindImage, c.Message().Payload, types.GenOptions{})
	})

	b.bot.Handle("/video", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		return b.submit(c, types.KindVideo, c.Message().Payload, types.GenOptions{})
	})

	b.bot.Handle("/music", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		prompt, instrumental := parseMusicArgs(c.Message().Payload)
		return b.submit(c, types.KindMusic, prompt, types.GenOptions{Instrumental: instrumental})
	})

	b.bot.Handle("/edit", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		path, err := b.sourcePhoto(c)
		if err != nil {
			return c.Send("Reply to a photo with /edit <instructions>, or send a photo with /edit as its caption.")
		}
		return b.submit(c, types.KindImageEdit, c.Message().Payload, types.GenOptions{ImagePath: path})
	})

	b.bot.Handle("/animate", func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		path, err := b.sourcePhoto(c)
		if err != nil {
			return c.Send("Reply to a photo with /animate <motion>, or send a photo with /animate as its caption.")
		}
		return b.submit(c, types.KindImageToVideo, c.Message().Payload, types.GenOptions{ImagePath: path})
	})

	b.bot.Handle("/tasks", b.handleTasks)
	b.bot.Handle("/providers", b.handleProviders)

	b.bot.Handle(tele.OnPhoto, b.handlePhoto)

	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		if !b.allowed(c) {
			return nil
		}
		if c.Chat().Type != tele.ChatPrivate {
			return nil
		}
		return c.Send("Tell me what to make: /image, /video or /music followed by a prompt. /help lists everything.")
	})
}

// handlePhoto routes photos carrying an /edit or /animate caption.
func (b *Bot) handlePhoto(c tele.Context) error {
	if !b.allowed(c) {
		return nil
	}

	caption := strings.TrimSpace(c.Message().Caption)
	var kind types.MediaKind
	var prompt string
	switch {
	case strings.HasPrefix(caption, "/edit"):
		kind = types.KindImageEdit
		prompt = strings.TrimSpace(strings.TrimPrefix(caption, "/edit"))
	case strings.HasPrefix(caption, "/animate"):
		kind = types.KindImageToVideo
		prompt = strings.TrimSpace(strings.TrimPrefix(caption, "/animate"))
	default:
		return c.Send("To work on this photo, caption it with /edit <instructions> or /animate <motion>.")
	}

	path, err := b.savePhoto(c.Message().Photo)
	if err != nil {
		L_error("telegram: failed to store source photo", "error", err)
		return c.Send("Sorry, I couldn't read that image.")
	}
	return b.submit(c, kind, prompt, types.GenOptions{ImagePath: path})
}

// submit hands one generation request to the gateway. The escalation
// runs in the background; results and notices come back over the bus.
func (b *Bot) submit(c tele.Context, kind types.MediaKind, prompt string, opts types.GenOptions) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return c.Send(usageFor(kind))
	}

	req := types.GenRequest{
		Kind:    kind,
		Prompt:  prompt,
		Options: opts,
		Delivery: types.DeliveryContext{
			Channel: "telegram",
			ChatID:  c.Chat().ID,
			ReplyTo: c.Message().ID,
		},
	}

	L_info("telegram: generation requested",
		"kind", kind,
		"chatID", c.Chat().ID,
		"promptLength", len(prompt),
	)
	_ = c.Notify(tele.Typing)

	go func() {
		ctx, cancel := context.WithTimeout(b.ctx, generateCeiling)
		defer cancel()
		if _, err := b.gw.Generate(ctx, req); err != nil {
			// The requester already got the failure notice over the bus.
			L_warn("telegram: generation ended in failure", "kind", kind, "chatID", req.Delivery.ChatID, "error", err)
		}
	}()
	return nil
}

func (b *Bot) handleTasks(c tele.Context) error {
	if !b.allowed(c) {
		return nil
	}

	ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
	defer cancel()

	list, err := b.gw.PendingTasks(ctx)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %s", err))
	}
	if len(list) == 0 {
		return c.Send("Nothing in flight.")
	}

	var sb strings.Builder
	sb.WriteString("In flight:\n")
	for _, t := range list {
		age := time.Since(t.CreatedAt).Round(time.Second)
		fmt.Fprintf(&sb, "%s  %s via %s  %s  (%s)\n", shortID(t.ID), t.Kind, t.Provider, t.Status, age)
	}
	return c.Send(sb.String())
}

func (b *Bot) handleProviders(c tele.Context) error {
	if !b.allowed(c) {
		return nil
	}

	infos := b.gw.Providers()
	if len(infos) == 0 {
		return c.Send("No providers configured.")
	}

	var sb strings.Builder
	sb.WriteString("Configured services:\n")
	for _, p := range infos {
		kinds := make([]string, len(p.Kinds))
		for i, k := range p.Kinds {
			kinds[i] = string(k)
		}
		fmt.Fprintf(&sb, "%s (%s): %s\n", p.Label, p.ID, strings.Join(kinds, ", "))
	}
	return c.Send(sb.String())
}

// sourcePhoto finds the photo a command refers to, in the message itself
// or the message it replies to, and stores it for the edit pipeline.
func (b *Bot) sourcePhoto(c tele.Context) (string, error) {
	msg := c.Message()
	photo := msg.Photo
	if photo == nil && msg.ReplyTo != nil {
		photo = msg.ReplyTo.Photo
	}
	if photo == nil {
		return "", fmt.Errorf("no photo in message or reply")
	}
	return b.savePhoto(photo)
}

// savePhoto downloads a photo from Telegram into the media store and
// returns its absolute path.
func (b *Bot) savePhoto(photo *tele.Photo) (string, error) {
	if photo == nil {
		return "", fmt.Errorf("no photo found")
	}

	L_debug("telegram: downloading photo", "fileID", photo.FileID, "width", photo.Width, "height", photo.Height)
	data, err := media.DownloadPhoto(b.bot, photo)
	if err != nil {
		return "", fmt.Errorf("failed to download photo: %w", err)
	}

	abs, _, err := b.gw.MediaStore().Save(data, "sources", ".jpg")
	if err != nil {
		return "", fmt.Errorf("failed to store photo: %w", err)
	}
	return abs, nil
}

// allowed reports whether the sender may use the bot. An empty allowlist
// admits everyone; unknown senders are ignored silently.
func (b *Bot) allowed(c tele.Context) bool {
	if len(b.config.AllowedUsers) == 0 {
		return true
	}
	id := c.Sender().ID
	for _, want := range b.config.AllowedUsers {
		if id == want {
			return true
		}
	}
	L_warn("telegram: unknown user ignored", "userID", id)
	return false
}

// parseMusicArgs splits the optional -i instrumental flag off the prompt.
func parseMusicArgs(payload string) (prompt string, instrumental bool) {
	fields := strings.Fields(payload)
	if len(fields) > 0 && fields[0] == "-i" {
		return strings.Join(fields[1:], " "), true
	}
	return strings.TrimSpace(payload), false
}

func usageFor(kind types.MediaKind) string {
	switch kind {
	case types.KindImage:
		return "Usage: /image <prompt>"
	case types.KindImageEdit:
		return "Usage: /edit <instructions>, replying to a photo"
	case types.KindVideo:
		return "Usage: /video <prompt>"
	case types.KindImageToVideo:
		return "Usage: /animate <motion>, replying to a photo"
	case types.KindMusic:
		return "Usage: /music <prompt> (-i for instrumental)"
	default:
		return "Missing prompt."
	}
}

// shortID trims a uuid for chat display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
