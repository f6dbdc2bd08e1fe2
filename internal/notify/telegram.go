// Package notify announces finished pipeline runs on Telegram.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	platformhttp "github.com/Alias1177/PredictorPipeline/internal/platform/http"
	"github.com/Alias1177/PredictorPipeline/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sender is the part of tgbotapi.BotAPI we use.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends a run summary to one chat.
type Telegram struct {
	bot        sender
	chatID     int64
	onlyFailed bool
	logger     zerolog.Logger
}

// Options configures the Telegram notifier
type Options struct {
	BotToken   string
	ChatID     int64
	RatePerSec int
	OnlyFailed bool
}

// NewTelegram connects to the bot API through the rate limited client.
func NewTelegram(opts Options) (*Telegram, error) {
	client := platformhttp.NewClient(platformhttp.ClientOptions{
		Timeout:        15 * time.Second,
		RequestsPerSec: opts.RatePerSec,
	})
	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("initialize Telegram bot: %w", err)
	}
	return newTelegram(bot, opts), nil
}

func newTelegram(bot sender, opts Options) *Telegram {
	return &Telegram{
		bot:        bot,
		chatID:     opts.ChatID,
		onlyFailed: opts.OnlyFailed,
		logger:     log.With().Str("component", "telegram").Logger(),
	}
}

// NotifyRun implements models.Notifier
func (t *Telegram) NotifyRun(ctx context.Context, report *models.RunReport) error {
	if t.onlyFailed && report.FailureCount == 0 && report.Status == models.RunStatusCompleted {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatSummary(report))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send run summary: %w", err)
	}
	t.logger.Debug().Int64("chat_id", t.chatID).Int64("run_id", report.RunID).Msg("Run summary sent")
	return nil
}

// FormatSummary renders a plain text report: one line per ticker, failed
// stages listed by name.
func FormatSummary(report *models.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %s: %s\n", report.Pipeline, report.Status)
	if report.RunID != 0 {
		fmt.Fprintf(&b, "Run #%d, ", report.RunID)
	}
	fmt.Fprintf(&b, "end date %s, policy %s\n", report.EndDate, report.Policy)
	if report.Cleanup.Failed() {
		fmt.Fprintf(&b, "cleanup: FAILED (%s)\n", report.Cleanup.Error)
	}
	for _, t := range report.Tickers {
		var failed, skipped []string
		for _, o := range t.Outcomes {
			switch o.Status {
			case models.StatusFailed:
				failed = append(failed, o.Invocation.Stage)
			case models.StatusSkipped:
				skipped = append(skipped, o.Invocation.Stage)
			}
		}
		switch {
		case len(failed) > 0:
			fmt.Fprintf(&b, "%s: failed %s", t.Symbol, strings.Join(failed, ", "))
			if len(skipped) > 0 {
				fmt.Fprintf(&b, "; skipped %s", strings.Join(skipped, ", "))
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "%s: ok\n", t.Symbol)
		}
	}
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Second)
	fmt.Fprintf(&b, "Failures: %d, elapsed %s", report.FailureCount, elapsed)
	return b.String()
}
