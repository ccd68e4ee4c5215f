// Package bot wires the Telegram admin surface to the store and the
// delivery coordinator. Configuration happens in private chat with bot
// admins; target chats only ever receive rate posts.
package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"ratewatch/internal/backup"
	"ratewatch/internal/config"
	"ratewatch/internal/coordinator"
	"ratewatch/internal/schedule"
	"ratewatch/internal/source"
	"ratewatch/internal/store"
	"ratewatch/internal/transport"
)

type Awaiting string

const (
	AwaitNone     Awaiting = ""
	AwaitInterval Awaiting = "interval"
	AwaitQuiet    Awaiting = "quiet"
	AwaitAbs      Awaiting = "threshold_abs"
	AwaitPct      Awaiting = "threshold_pct"
	AwaitAddAdmin Awaiting = "add_admin"
)

type Session struct {
	Await          Awaiting
	SelectedChatID int64
}

type App struct {
	cfg    config.Config
	store  *store.Store
	bot    *tgbotapi.BotAPI
	src    *source.Client
	coord  *coordinator.Coordinator
	backup *backup.Service
	logger zerolog.Logger

	sessMu sync.Mutex
	sess   map[int64]*Session // by user id
}

func New(cfg config.Config, logger zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "bot.db"))
	if err != nil {
		return nil, err
	}
	if err := st.SeedAdmins(context.Background(), cfg.InitialAdminIDs); err != nil {
		_ = st.Close()
		return nil, err
	}

	b, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	app := &App{
		cfg:    cfg,
		store:  st,
		bot:    b,
		logger: logger.With().Str("component", "bot").Logger(),
		sess:   map[int64]*Session{},
	}

	app.src = source.NewClient(source.Options{
		HomeURL:     cfg.Source.HomeURL,
		DataURL:     cfg.Source.DataURL,
		TokenMaxAge: time.Duration(cfg.Source.TokenMaxAge),
		HTTPTimeout: time.Duration(cfg.Source.HTTPTimeout),
	}, logger)

	app.coord = coordinator.New(st, app.src, transport.NewTelegram(b), app, logger)

	if cfg.BackupSchedule != "" {
		svc, err := backup.New(st, filepath.Join(cfg.DataDir, "backups"), cfg.BackupSchedule, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		app.backup = svc
	}
	return app, nil
}

func (a *App) Close() {
	if a.coord != nil {
		a.coord.Stop()
	}
	if a.backup != nil {
		a.backup.Stop()
	}
	_ = a.store.Close()
}

func (a *App) Run() error {
	a.logger.Info().Str("username", a.bot.Self.UserName).Msg("bot authorized")

	// Warm the token cache and arrow baselines before the first slot.
	a.warmup()

	a.coord.Start()
	if a.backup != nil {
		a.backup.Start()
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}

	for upd := range a.bot.GetUpdatesChan(u) {
		a.handleUpdate(upd)
	}
	return nil
}

// warmup performs one fetch so the first scheduled tick starts with a live
// token. Failure here is non-fatal; the tick retry policy covers it.
func (a *App) warmup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := a.src.Fetch(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("warmup fetch failed")
	}
}

// NotifyAdmins implements coordinator.Notifier.
func (a *App) NotifyAdmins(ctx context.Context, text string) {
	admins, err := a.store.ListAdmins(ctx)
	if err != nil {
		return
	}
	for _, ad := range admins {
		_, _ = a.bot.Send(tgbotapi.NewMessage(ad.UserID, text))
	}
}

func (a *App) handleUpdate(upd tgbotapi.Update) {
	switch {
	case upd.MyChatMember != nil:
		a.handleMyChatMember(*upd.MyChatMember)
	case upd.Message != nil:
		a.handleMessage(*upd.Message)
	case upd.CallbackQuery != nil:
		a.handleCallback(*upd.CallbackQuery)
	}
}

func (a *App) ensureSession(userID int64) *Session {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	s, ok := a.sess[userID]
	if !ok {
		s = &Session{}
		a.sess[userID] = s
	}
	return s
}

func (a *App) clearAwait(userID int64) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if s, ok := a.sess[userID]; ok {
		s.Await = AwaitNone
	}
}

// handleMyChatMember registers chats the bot is added to and tears down
// chats it is removed from.
func (a *App) handleMyChatMember(m tgbotapi.ChatMemberUpdated) {
	if m.NewChatMember.User == nil || m.NewChatMember.User.ID != a.bot.Self.ID {
		return
	}
	ctx := context.Background()
	newStatus := m.NewChatMember.Status
	oldStatus := m.OldChatMember.Status

	removed := newStatus == "left" || newStatus == "kicked"
	if removed {
		_ = a.store.RemoveChat(ctx, m.Chat.ID)
		a.logger.Info().Int64("chat_id", m.Chat.ID).Msg("chat removed")
		return
	}

	added := (oldStatus == "left" || oldStatus == "kicked" || oldStatus == "") &&
		(newStatus == "member" || newStatus == "administrator")
	if !added {
		return
	}

	title := m.Chat.Title
	if title == "" {
		title = m.Chat.UserName
	}
	if err := a.store.UpsertChat(ctx, m.Chat.ID, title, m.Chat.Type); err != nil {
		a.logger.Error().Err(err).Int64("chat_id", m.Chat.ID).Msg("register chat")
		return
	}

	_, _ = a.bot.Send(tgbotapi.NewMessage(m.Chat.ID,
		"✅ ربات اضافه شد.\n⏳ این چت هنوز تایید نشده؛ ادمین ربات در پیام خصوصی تایید می‌کند."))

	text := fmt.Sprintf("🆕 ربات به یک %s اضافه شد و نیاز به تایید دارد:\n\nعنوان: %s\nChat ID: %d",
		m.Chat.Type, title, m.Chat.ID)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ تایید", fmt.Sprintf("approve|%d", m.Chat.ID)),
			tgbotapi.NewInlineKeyboardButtonData("❌ رد", fmt.Sprintf("deny|%d", m.Chat.ID)),
		),
	)
	admins, err := a.store.ListAdmins(ctx)
	if err != nil {
		return
	}
	for _, ad := range admins {
		msg := tgbotapi.NewMessage(ad.UserID, text)
		msg.ReplyMarkup = kb
		_, _ = a.bot.Send(msg)
	}
}

func (a *App) handleMessage(msg tgbotapi.Message) {
	if msg.Chat == nil || msg.Chat.Type != "private" || msg.From == nil {
		return
	}
	ctx := context.Background()
	userID := msg.From.ID

	// First private user becomes super admin when none were configured.
	if count, err := a.store.AdminCount(ctx); err == nil && count == 0 {
		_ = a.store.AddAdmin(ctx, userID, true)
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "✅ شما به عنوان ادمین اصلی ثبت شدید."))
	}

	isAdmin, isSuper, _ := a.store.IsAdmin(ctx, userID)
	if !isAdmin {
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "⛔️ دسترسی ندارید."))
		return
	}

	sess := a.ensureSession(userID)
	if sess.Await != AwaitNone && !msg.IsCommand() {
		a.handleAwaitedInput(ctx, msg, sess)
		return
	}

	switch msg.Command() {
	case "start", "panel":
		a.sendChatList(userID)
	case "help":
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, helpText))
	case "addadmin":
		if !isSuper {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "فقط ادمین اصلی می‌تواند ادمین اضافه کند."))
			return
		}
		sess.Await = AwaitAddAdmin
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "User ID عددی ادمین جدید را بفرستید."))
	}
}

const helpText = `راهنما:
/panel  باز کردن پنل مدیریت
/help   همین راهنما
/addadmin  افزودن ادمین (فقط ادمین اصلی)

- Interval تراز شده است: بازه ۵ دقیقه یعنی 12:00، 12:05، ...
- ساعات سکوت به وقت تهران است، مثل 23:00-07:00 (چند بازه با ویرگول).
- «فقط در صورت تغییر» آیتم‌های تریگر را با آستانه مقایسه می‌کند.
- حالت Edit یک پیام را به‌روز نگه می‌دارد (نیاز به مجوز ویرایش).`

func (a *App) handleAwaitedInput(ctx context.Context, msg tgbotapi.Message, sess *Session) {
	userID := msg.From.ID
	text := strings.TrimSpace(msg.Text)
	chatID := sess.SelectedChatID
	await := sess.Await
	a.clearAwait(userID)

	switch await {
	case AwaitInterval:
		v, err := strconv.Atoi(text)
		if err != nil || v < 1 {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "عدد نامعتبر. مثال: 5"))
			return
		}
		if err := a.store.SetInterval(ctx, chatID, v); err != nil {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "❌ "+err.Error()))
			return
		}
		a.sendMainMenu(userID, 0, chatID, "بازه به‌روزرسانی شد ✅")

	case AwaitQuiet:
		windows, err := parseQuietList(text)
		if err != nil {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "قالب نامعتبر. مثال: 23:00-07:00 یا 23:00-07:00,13:00-14:00"))
			return
		}
		if err := a.store.SetQuietWindows(ctx, chatID, windows); err != nil {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "❌ "+err.Error()))
			return
		}
		a.sendMainMenu(userID, 0, chatID, "ساعات سکوت به‌روزرسانی شد ✅")

	case AwaitAbs, AwaitPct:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil || v < 0 {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "عدد نامعتبر. مثال: 200"))
			return
		}
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		abs, pct := settings.ThresholdAbs, settings.ThresholdPct
		if await == AwaitAbs {
			abs = v
		} else {
			pct = v
		}
		if err := a.store.SetThresholds(ctx, chatID, abs, pct); err != nil {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "❌ "+err.Error()))
			return
		}
		a.sendMainMenu(userID, 0, chatID, "آستانه به‌روزرسانی شد ✅")

	case AwaitAddAdmin:
		id, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "User ID نامعتبر است."))
			return
		}
		if err := a.store.AddAdmin(ctx, id, false); err != nil {
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "❌ "+err.Error()))
			return
		}
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "✅ ادمین اضافه شد."))
	}
}

// parseQuietList parses a comma-separated list of HH:MM-HH:MM windows.
// An empty string clears the quiet set.
func parseQuietList(s string) ([]schedule.Window, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return []schedule.Window{}, nil
	}
	var out []schedule.Window
	for _, part := range strings.Split(s, ",") {
		w, err := schedule.ParseWindow(part)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
