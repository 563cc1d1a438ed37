package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/danmuck/connectorctl/internal/connector"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const (
	TimeoutNotice = "⏳ Cortex-M did not respond in time. Please try again."
	BusyNotice    = "⏳ Still working on your previous message. Please wait for the reply."
	ErrorNotice   = "⚠️ Cortex-M is unavailable right now. Please try again later."

	defaultPollTimeout = 30
)

var (
	ErrBotRequired       = errors.New("telegram: bot required")
	ErrRequesterRequired = errors.New("telegram: requester required")
)

// Bot is the subset of *tgbotapi.BotAPI the source uses.
type Bot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Requester submits one chat message and waits for its reply.
type Requester interface {
	Submit(ctx context.Context, conversationID, roomID, text string) (string, error)
}

type Config struct {
	Token string
	// AllowList holds user ids or usernames; empty allows everyone.
	AllowList   []string
	PollTimeout int
}

// Source turns Telegram updates into connector requests.
type Source struct {
	bot         Bot
	requester   Requester
	allow       map[string]struct{}
	pollTimeout int

	mu    sync.Mutex
	known map[int64]struct{}
	wg    sync.WaitGroup
}

var _ connector.BroadcastSink = (*Source)(nil)

func NewSource(cfg Config, bot Bot, requester Requester) (*Source, error) {
	if bot == nil {
		return nil, ErrBotRequired
	}
	if requester == nil {
		return nil, ErrRequesterRequired
	}
	allow := make(map[string]struct{}, len(cfg.AllowList))
	for _, entry := range cfg.AllowList {
		entry = strings.TrimPrefix(strings.TrimSpace(entry), "@")
		if entry != "" {
			allow[entry] = struct{}{}
		}
	}
	if len(allow) == 0 {
		log.Warn().Msg("telegram allow-list is empty: the bot answers everyone")
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	return &Source{
		bot:         bot,
		requester:   requester,
		allow:       allow,
		pollTimeout: poll,
		known:       make(map[int64]struct{}),
	}, nil
}

// Run polls for updates until ctx is cancelled. Each message is handled on its
// own goroutine so a slow reply never blocks other chats.
func (s *Source) Run(ctx context.Context) error {
	if _, err := s.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("telegram: drop pending updates: %w", err)
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.pollTimeout
	updates := s.bot.GetUpdatesChan(u)
	log.Info().Int("poll_timeout", s.pollTimeout).Msg("telegram polling started")

	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			s.bot.StopReceivingUpdates()
			log.Info().Msg("telegram polling stopped")
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.HandleUpdate(ctx, upd)
			}()
		}
	}
}

// HandleUpdate processes one update synchronously.
func (s *Source) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.IsCommand() {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if !s.allowed(msg.From) {
		ev := log.Warn().Int64("chat_id", msg.Chat.ID)
		if msg.From != nil {
			ev = ev.Int64("user_id", msg.From.ID).Str("username", msg.From.UserName)
		}
		ev.Msg("telegram unauthorized message dropped")
		return
	}
	chatID := msg.Chat.ID
	s.remember(chatID)

	if _, err := s.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Debug().Err(err).Int64("chat_id", chatID).Msg("telegram typing action failed")
	}

	conversationID := strconv.FormatInt(chatID, 10)
	reply, err := s.requester.Submit(ctx, conversationID, conversationID, text)
	switch {
	case err == nil:
		s.sendRendered(chatID, reply)
	case errors.Is(err, connector.ErrReplyTimeout):
		s.sendPlain(chatID, TimeoutNotice)
	case errors.Is(err, connector.ErrConversationBusy):
		s.sendPlain(chatID, BusyNotice)
	case ctx.Err() != nil:
		return
	default:
		log.Error().Err(err).Int64("chat_id", chatID).Msg("telegram request failed")
		s.sendPlain(chatID, ErrorNotice)
	}
}

// Broadcast sends text to every chat that has talked to the bot.
func (s *Source) Broadcast(text string) {
	chats := s.KnownChats()
	log.Info().Int("chats", len(chats)).Msg("telegram broadcast")
	for _, chatID := range chats {
		s.sendRendered(chatID, text)
	}
}

func (s *Source) KnownChats() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.known))
	for id := range s.known {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Source) remember(chatID int64) {
	s.mu.Lock()
	s.known[chatID] = struct{}{}
	s.mu.Unlock()
}

func (s *Source) allowed(user *tgbotapi.User) bool {
	if len(s.allow) == 0 {
		return true
	}
	if user == nil {
		return false
	}
	if _, ok := s.allow[strconv.FormatInt(user.ID, 10)]; ok {
		return true
	}
	if user.UserName == "" {
		return false
	}
	_, ok := s.allow[user.UserName]
	return ok
}

// sendRendered tries Telegram HTML first and falls back to the raw text.
func (s *Source) sendRendered(chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		log.Warn().Int64("chat_id", chatID).Msg("telegram empty reply not sent")
		return
	}
	msg := tgbotapi.NewMessage(chatID, RenderHTML(text))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := s.bot.Send(msg); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram html send failed, falling back to plain text")
		s.sendPlain(chatID, text)
	}
}

func (s *Source) sendPlain(chatID int64, text string) {
	if _, err := s.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
	}
}
