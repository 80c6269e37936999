package reporter

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Reporter records page load failures. Every notice is logged; when a Telegram bot and an
// admin chat are configured the notice is forwarded there as well.
// It is nil-safe: Notify on a nil receiver is a no-op.
type Reporter struct {
	bot     Sender
	adminID int64
	logger  *slog.Logger
}

func New(bot Sender, adminID int64, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{bot: bot, adminID: adminID, logger: logger}
}

func (r *Reporter) Notify(msg string) {
	if r == nil {
		return
	}

	r.logger.Warn("page load failed", "notice", msg)

	if r.bot == nil || r.adminID == 0 {
		return
	}
	if _, err := r.bot.Send(tgbotapi.NewMessage(r.adminID, msg)); err != nil {
		r.logger.Error("failed to send failure notice", "err", err)
	}
}
