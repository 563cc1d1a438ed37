package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// botLogger routes the Bot API library's internal logging into zerolog.
type botLogger struct{}

func (botLogger) Println(v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (botLogger) Printf(format string, v ...interface{}) {
	log.Debug().Str("component", "tgbotapi").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// NewBotAPI authenticates token against the Bot API.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	if err := tgbotapi.SetLogger(botLogger{}); err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: authorize bot: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return bot, nil
}
