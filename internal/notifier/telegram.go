package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const telegramPrefix = "telegram:"

// TelegramSender delivers reminders to a Telegram chat. Targets look like
// "telegram:<chat_id>".
type TelegramSender struct {
	bot      *tele.Bot
	loc      *time.Location
	lowStock int
}

func NewTelegramSender(cfg TelegramConfig, loc *time.Location, lowStock int) (*TelegramSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// Offline skips the getMe round trip; the bot only sends.
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &TelegramSender{bot: b, loc: loc, lowStock: lowStock}, nil
}

func (s *TelegramSender) Send(ctx context.Context, target string, r Reminder) error {
	chatID, err := parseTelegramTarget(target)
	if err != nil {
		return err
	}
	msg, err := Render(r, s.loc, s.lowStock)
	if err != nil {
		return err
	}
	text := telegramHTML(msg)

	// telebot has no context support; bound the call by ctx ourselves.
	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseTelegramTarget(target string) (int64, error) {
	t := strings.TrimSpace(target)
	if !strings.HasPrefix(strings.ToLower(t), telegramPrefix) {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTarget, target)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(t[len(telegramPrefix):]), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: bad chat id in %q", ErrUnsupportedTarget, target)
	}
	return id, nil
}

// telegramHTML turns the plain text body into Bot API HTML: escaped text
// with a bold subject line.
func telegramHTML(m Message) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(m.Subject))
	b.WriteString("</b>\n\n")
	body := strings.TrimSpace(m.Text)
	// The first line repeats the subject.
	if i := strings.Index(body, "\n"); i >= 0 {
		body = strings.TrimSpace(body[i+1:])
	}
	b.WriteString(html.EscapeString(body))
	return b.String()
}
