package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"
)

// Level orders alert severity.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// ParseLevel accepts info, warning, error or critical in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	}
	return LevelInfo, fmt.Errorf("unknown alert level %q", s)
}

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// TelegramSender sends alerts through the Bot API.
type TelegramSender struct {
	bot *bot.Bot
}

// NewTelegramSender creates a sender without calling getMe, so construction
// never touches the network.
func NewTelegramSender(token string, opts ...bot.Option) (*TelegramSender, error) {
	opts = append([]bot.Option{bot.WithSkipGetMe()}, opts...)
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (s *TelegramSender) Send(ctx context.Context, chatID int64, text string) error {
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// AlertManager logs every alert and forwards actionable ones to Telegram.
type AlertManager struct {
	sender   Sender
	chatID   int64
	minLevel Level
	logger   *logrus.Logger
	now      func() time.Time
}

// NewAlertManager builds a manager. A nil sender or zero chat id keeps
// alerts local.
func NewAlertManager(sender Sender, chatID int64, minLevel Level, logger *logrus.Logger) *AlertManager {
	if sender == nil || chatID == 0 {
		logger.Warn("Telegram alerts disabled: missing bot token or chat id")
		sender = nil
	}
	return &AlertManager{
		sender:   sender,
		chatID:   chatID,
		minLevel: minLevel,
		logger:   logger,
		now:      time.Now,
	}
}

// Enabled reports whether alerts leave the process.
func (m *AlertManager) Enabled() bool {
	return m.sender != nil
}

// Send logs the alert and delivers it when level reaches the configured minimum.
// Delivery failures are logged and returned; callers treat them as best effort.
func (m *AlertManager) Send(ctx context.Context, level Level, message string) error {
	text := fmt.Sprintf("[ALERT - %s] %s | %s", level, m.now().UTC().Format(time.RFC3339), message)

	entry := m.logger.WithField("alert_level", level.String())
	switch level {
	case LevelCritical, LevelError:
		entry.Error(message)
	case LevelWarning:
		entry.Warn(message)
	default:
		entry.Info(message)
	}

	if m.sender == nil || level < m.minLevel {
		return nil
	}
	if err := m.sender.Send(ctx, m.chatID, text); err != nil {
		m.logger.WithError(err).Error("Telegram alert failed")
		return err
	}
	return nil
}
