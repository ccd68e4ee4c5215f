package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ratewatch/internal/items"
	"ratewatch/internal/schedule"
	"ratewatch/internal/store"
	"ratewatch/internal/utils"
)

func onOff(v bool) string {
	if v {
		return "✅"
	}
	return "☑️"
}

func (a *App) answer(q tgbotapi.CallbackQuery, text string) {
	cb := tgbotapi.NewCallback(q.ID, text)
	_, _ = a.bot.Request(cb)
}

// editOrSend updates the panel message in place when a messageID is known,
// otherwise posts a fresh panel.
func (a *App) editOrSend(userID int64, messageID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	if messageID != 0 {
		edit := tgbotapi.NewEditMessageText(userID, messageID, text)
		edit.ReplyMarkup = &kb
		edit.DisableWebPagePreview = true
		if _, err := a.bot.Request(edit); err == nil {
			return
		}
	}
	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = kb
	msg.DisableWebPagePreview = true
	_, _ = a.bot.Send(msg)
}

func (a *App) sendChatList(userID int64) {
	ctx := context.Background()
	chats, err := a.store.ListChats(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("list chats")
		return
	}
	if len(chats) == 0 {
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID,
			"هنوز چتی ثبت نشده. ربات را به گروه یا کانال اضافه کنید."))
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, c := range chats {
		label := c.Title
		if label == "" {
			label = strconv.FormatInt(c.ChatID, 10)
		}
		switch {
		case !c.Approved:
			label = "⏳ " + label
		case c.Enabled:
			label = "🟢 " + label
		default:
			label = "⚪️ " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("panel|%d", c.ChatID)),
		))
	}
	msg := tgbotapi.NewMessage(userID, "یک چت را برای مدیریت انتخاب کنید:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, _ = a.bot.Send(msg)
}

func (a *App) sendMainMenu(userID int64, messageID int, chatID int64, banner string) {
	ctx := context.Background()
	chat, err := a.store.GetChat(ctx, chatID)
	if err != nil {
		a.logger.Error().Err(err).Int64("chat_id", chatID).Msg("load chat")
		return
	}
	settings, err := a.store.GetSettings(ctx, chatID)
	if err != nil {
		a.logger.Error().Err(err).Int64("chat_id", chatID).Msg("load settings")
		return
	}

	title := chat.Title
	if title == "" {
		title = strconv.FormatInt(chatID, 10)
	}
	var b strings.Builder
	if banner != "" {
		b.WriteString(banner + "\n\n")
	}
	fmt.Fprintf(&b, "⚙️ %s\n\n", title)
	fmt.Fprintf(&b, "بازه ارسال: هر %d دقیقه\n", settings.IntervalMinutes)
	if len(settings.Quiet) == 0 {
		b.WriteString("ساعات سکوت: —\n")
	} else {
		var parts []string
		for _, w := range settings.Quiet {
			parts = append(parts, utils.FormatHHMM(w.Start)+"-"+utils.FormatHHMM(w.End))
		}
		b.WriteString("ساعات سکوت: " + strings.Join(parts, "، ") + "\n")
	}
	fmt.Fprintf(&b, "آستانه: %.0f تومان / %.2f%%\n", settings.ThresholdAbs, settings.ThresholdPct)
	if len(settings.Triggers) == 0 {
		b.WriteString("تریگرها: همه آیتم‌های انتخابی\n")
	} else {
		fmt.Fprintf(&b, "تریگرها: %d آیتم\n", len(settings.Triggers))
	}

	sideLabel := "فروش"
	if settings.PriceSide == "buy" {
		sideLabel = "خرید"
	}
	modeLabel := "پیام جدید"
	if settings.PostMode == "edit" {
		modeLabel = "ویرایش پیام"
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(onOff(chat.Enabled)+" ارسال خودکار", fmt.Sprintf("tgl_enabled|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData(onOff(settings.OnlyOnChange)+" فقط در صورت تغییر", fmt.Sprintf("tgl_ooc|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📤 حالت: "+modeLabel, fmt.Sprintf("tgl_mode|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("💱 نرخ: "+sideLabel, fmt.Sprintf("tgl_side|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏱ بازه ارسال", fmt.Sprintf("iv|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("🌙 ساعات سکوت", fmt.Sprintf("quiet|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📏 آستانه تغییر", fmt.Sprintf("thr|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("🎯 تریگرها", fmt.Sprintf("trg|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💵 ارزها", fmt.Sprintf("items|%d|currency", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("🪙 سکه", fmt.Sprintf("items|%d|coin", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("📊 بازار", fmt.Sprintf("items|%d|market", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(onOff(settings.FaDigits)+" اعداد فارسی", fmt.Sprintf("tgl_fa|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("🚀 ارسال فوری", fmt.Sprintf("sendnow|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 خروجی تنظیمات", fmt.Sprintf("export|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 حذف چت", fmt.Sprintf("remove|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("« لیست چت‌ها", "back"),
		),
	)
	a.editOrSend(userID, messageID, b.String(), kb)
}

func (a *App) sendIntervalMenu(userID int64, messageID int, chatID int64) {
	row1 := tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("5", fmt.Sprintf("iv_set|%d|5", chatID)),
		tgbotapi.NewInlineKeyboardButtonData("10", fmt.Sprintf("iv_set|%d|10", chatID)),
		tgbotapi.NewInlineKeyboardButtonData("15", fmt.Sprintf("iv_set|%d|15", chatID)),
		tgbotapi.NewInlineKeyboardButtonData("30", fmt.Sprintf("iv_set|%d|30", chatID)),
		tgbotapi.NewInlineKeyboardButtonData("60", fmt.Sprintf("iv_set|%d|60", chatID)),
	)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		row1,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ مقدار دلخواه", fmt.Sprintf("iv_custom|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("« بازگشت", fmt.Sprintf("panel|%d", chatID)),
		),
	)
	a.editOrSend(userID, messageID, "بازه ارسال (دقیقه). ارسال روی مضرب‌های بازه تراز می‌شود:", kb)
}

func (a *App) sendQuietMenu(userID int64, messageID int, chatID int64) {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("23:00-07:00", fmt.Sprintf("quiet_set|%d|23:00-07:00", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("00:00-08:00", fmt.Sprintf("quiet_set|%d|00:00-08:00", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ بازه دلخواه", fmt.Sprintf("quiet_custom|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 حذف سکوت", fmt.Sprintf("quiet_clear|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("« بازگشت", fmt.Sprintf("panel|%d", chatID)),
		),
	)
	a.editOrSend(userID, messageID, "ساعات سکوت (به وقت تهران). در این بازه‌ها ارسال خودکار انجام نمی‌شود:", kb)
}

func (a *App) sendThresholdMenu(userID int64, messageID int, chatID int64, settings store.Settings) {
	text := fmt.Sprintf("آستانه تغییر برای «فقط در صورت تغییر»:\n\nمطلق: %.0f تومان\nدرصدی: %.2f%%\n\nصفر یعنی هر تغییری ارسال شود.",
		settings.ThresholdAbs, settings.ThresholdPct)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ آستانه مطلق", fmt.Sprintf("thr_abs|%d", chatID)),
			tgbotapi.NewInlineKeyboardButtonData("✏️ آستانه درصدی", fmt.Sprintf("thr_pct|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 صفر کردن هر دو", fmt.Sprintf("thr_clear|%d", chatID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("« بازگشت", fmt.Sprintf("panel|%d", chatID)),
		),
	)
	a.editOrSend(userID, messageID, text, kb)
}

func (a *App) sendItemsMenu(userID int64, messageID int, chatID int64, cat items.Category) {
	ctx := context.Background()
	enabled, err := a.store.EnabledItemIDs(ctx, chatID)
	if err != nil {
		return
	}
	on := map[string]bool{}
	for _, id := range enabled {
		on[id] = true
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, it := range items.ByCategory(cat) {
		label := onOff(on[it.ID]) + " " + it.NameFa
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label,
			fmt.Sprintf("it|%d|%s|%s", chatID, cat, it.ID)))
		if len(row) == 2 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ همه", fmt.Sprintf("cat_all|%d|%s|on", chatID, cat)),
		tgbotapi.NewInlineKeyboardButtonData("☑️ هیچ‌کدام", fmt.Sprintf("cat_all|%d|%s|off", chatID, cat)),
	))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("« بازگشت", fmt.Sprintf("panel|%d", chatID)),
	))
	a.editOrSend(userID, messageID, "آیتم‌ها را انتخاب کنید:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

// sendTriggerMenu picks which items participate in the change check. An
// empty trigger set means every selected item is a trigger.
func (a *App) sendTriggerMenu(userID int64, messageID int, chatID int64) {
	ctx := context.Background()
	settings, err := a.store.GetSettings(ctx, chatID)
	if err != nil {
		return
	}
	enabled, err := a.store.EnabledItemIDs(ctx, chatID)
	if err != nil {
		return
	}
	trg := map[string]bool{}
	for _, id := range settings.Triggers {
		trg[id] = true
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for _, id := range enabled {
		it, ok := items.ByID(id)
		if !ok {
			continue
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(
			onOff(trg[id])+" "+it.NameFa, fmt.Sprintf("trg_it|%d|%s", chatID, id)))
		if len(row) == 2 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🗑 همه آیتم‌های انتخابی", fmt.Sprintf("trg_clear|%d", chatID)),
	))
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("« بازگشت", fmt.Sprintf("panel|%d", chatID)),
	))
	a.editOrSend(userID, messageID,
		"آیتم‌های تریگر برای «فقط در صورت تغییر». خالی یعنی همه آیتم‌های انتخابی:",
		tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (a *App) handleCallback(q tgbotapi.CallbackQuery) {
	if q.From == nil || q.Message == nil {
		return
	}
	ctx := context.Background()
	userID := q.From.ID
	isAdmin, _, _ := a.store.IsAdmin(ctx, userID)
	if !isAdmin {
		a.answer(q, "⛔️ دسترسی ندارید")
		return
	}
	messageID := q.Message.MessageID

	parts := strings.Split(q.Data, "|")
	action := parts[0]

	if action == "back" {
		a.answer(q, "")
		a.sendChatList(userID)
		return
	}
	if len(parts) < 2 {
		a.answer(q, "")
		return
	}
	chatID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		a.answer(q, "")
		return
	}
	sess := a.ensureSession(userID)
	sess.SelectedChatID = chatID

	switch action {
	case "approve":
		_ = a.store.SetChatApproved(ctx, chatID, true)
		_ = a.store.SetChatEnabled(ctx, chatID, true)
		a.answer(q, "تایید شد ✅")
		a.sendMainMenu(userID, messageID, chatID, "چت تایید و فعال شد ✅")

	case "deny":
		_ = a.store.RemoveChat(ctx, chatID)
		a.answer(q, "رد شد")
		a.editOrSend(userID, messageID, "❌ چت رد و حذف شد.", tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("« لیست چت‌ها", "back"),
			),
		))

	case "panel":
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "")

	case "tgl_enabled":
		chat, err := a.store.GetChat(ctx, chatID)
		if err != nil {
			a.answer(q, "❌")
			return
		}
		if !chat.Approved {
			a.answer(q, "ابتدا چت باید تایید شود")
			return
		}
		_ = a.store.SetChatEnabled(ctx, chatID, !chat.Enabled)
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "")

	case "tgl_ooc":
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		_ = a.store.SetOnlyOnChange(ctx, chatID, !settings.OnlyOnChange)
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "")

	case "tgl_mode":
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		mode := "edit"
		if settings.PostMode == "edit" {
			mode = "new"
		}
		_ = a.store.SetPostMode(ctx, chatID, mode)
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "")

	case "tgl_side":
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		side := "buy"
		if settings.PriceSide == "buy" {
			side = "sell"
		}
		_ = a.store.SetPriceSide(ctx, chatID, side)
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "")

	case "tgl_fa":
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		_ = a.store.SetFaDigits(ctx, chatID, !settings.FaDigits)
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "")

	case "iv":
		a.answer(q, "")
		a.sendIntervalMenu(userID, messageID, chatID)

	case "iv_set":
		if len(parts) < 3 {
			return
		}
		v, err := strconv.Atoi(parts[2])
		if err != nil {
			return
		}
		if err := a.store.SetInterval(ctx, chatID, v); err != nil {
			a.answer(q, "❌ "+err.Error())
			return
		}
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "بازه به‌روزرسانی شد ✅")

	case "iv_custom":
		sess.Await = AwaitInterval
		a.answer(q, "")
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "بازه را به دقیقه بفرستید (مثلا 5):"))

	case "quiet":
		a.answer(q, "")
		a.sendQuietMenu(userID, messageID, chatID)

	case "quiet_set":
		if len(parts) < 3 {
			return
		}
		w, err := schedule.ParseWindow(parts[2])
		if err != nil {
			a.answer(q, "❌")
			return
		}
		if err := a.store.SetQuietWindows(ctx, chatID, []schedule.Window{w}); err != nil {
			a.answer(q, "❌ "+err.Error())
			return
		}
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "ساعات سکوت تنظیم شد ✅")

	case "quiet_clear":
		if err := a.store.SetQuietWindows(ctx, chatID, []schedule.Window{}); err != nil {
			a.answer(q, "❌ "+err.Error())
			return
		}
		a.answer(q, "")
		a.sendMainMenu(userID, messageID, chatID, "ساعات سکوت حذف شد ✅")

	case "quiet_custom":
		sess.Await = AwaitQuiet
		a.answer(q, "")
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID,
			"بازه‌ها را بفرستید، مثل:\n23:00-07:00\nیا چند بازه با ویرگول:\n23:00-07:00,13:00-14:00"))

	case "thr":
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		a.answer(q, "")
		a.sendThresholdMenu(userID, messageID, chatID, settings)

	case "thr_abs":
		sess.Await = AwaitAbs
		a.answer(q, "")
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "آستانه مطلق را به تومان بفرستید (مثلا 200):"))

	case "thr_pct":
		sess.Await = AwaitPct
		a.answer(q, "")
		_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "آستانه درصدی را بفرستید (مثلا 0.5):"))

	case "thr_clear":
		if err := a.store.SetThresholds(ctx, chatID, 0, 0); err != nil {
			a.answer(q, "❌ "+err.Error())
			return
		}
		a.answer(q, "")
		settings, _ := a.store.GetSettings(ctx, chatID)
		a.sendThresholdMenu(userID, messageID, chatID, settings)

	case "items":
		if len(parts) < 3 {
			return
		}
		a.answer(q, "")
		a.sendItemsMenu(userID, messageID, chatID, items.Category(parts[2]))

	case "it":
		if len(parts) < 4 {
			return
		}
		cat, itemID := items.Category(parts[2]), parts[3]
		enabled, err := a.store.EnabledItemIDs(ctx, chatID)
		if err != nil {
			return
		}
		cur := false
		for _, id := range enabled {
			if id == itemID {
				cur = true
				break
			}
		}
		_ = a.store.SetItemEnabled(ctx, chatID, itemID, !cur)
		a.answer(q, "")
		a.sendItemsMenu(userID, messageID, chatID, cat)

	case "cat_all":
		if len(parts) < 4 {
			return
		}
		cat := items.Category(parts[2])
		_ = a.store.SetCategoryEnabled(ctx, chatID, cat, parts[3] == "on")
		a.answer(q, "")
		a.sendItemsMenu(userID, messageID, chatID, cat)

	case "trg":
		a.answer(q, "")
		a.sendTriggerMenu(userID, messageID, chatID)

	case "trg_it":
		if len(parts) < 3 {
			return
		}
		itemID := parts[2]
		settings, err := a.store.GetSettings(ctx, chatID)
		if err != nil {
			return
		}
		var next []string
		found := false
		for _, id := range settings.Triggers {
			if id == itemID {
				found = true
				continue
			}
			next = append(next, id)
		}
		if !found {
			next = append(next, itemID)
		}
		if err := a.store.SetTriggers(ctx, chatID, next); err != nil {
			a.answer(q, "❌ "+err.Error())
			return
		}
		a.answer(q, "")
		a.sendTriggerMenu(userID, messageID, chatID)

	case "trg_clear":
		if err := a.store.SetTriggers(ctx, chatID, nil); err != nil {
			a.answer(q, "❌ "+err.Error())
			return
		}
		a.answer(q, "")
		a.sendTriggerMenu(userID, messageID, chatID)

	case "sendnow":
		a.answer(q, "در حال ارسال…")
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
			defer cancel()
			if err := a.coord.SendNow(sendCtx, chatID); err != nil {
				_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "❌ ارسال ناموفق: "+err.Error()))
				return
			}
			_, _ = a.bot.Send(tgbotapi.NewMessage(userID, "✅ ارسال شد."))
		}()

	case "export":
		out, err := a.store.ExportSettings(ctx, chatID)
		if err != nil {
			a.answer(q, "❌")
			return
		}
		a.answer(q, "")
		msg := tgbotapi.NewMessage(userID, "```json\n"+out+"\n```")
		msg.ParseMode = tgbotapi.ModeMarkdown
		_, _ = a.bot.Send(msg)

	case "remove":
		_ = a.store.RemoveChat(ctx, chatID)
		a.answer(q, "حذف شد")
		a.sendChatList(userID)

	default:
		a.answer(q, "")
	}
}
