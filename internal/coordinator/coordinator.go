// Package coordinator drives the per-target delivery state machine: one
// minute-aligned tick loop, a shared fetch per tick, quiet and change gates,
// and post-vs-edit dispatch.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ratewatch/internal/change"
	"ratewatch/internal/items"
	"ratewatch/internal/render"
	"ratewatch/internal/schedule"
	"ratewatch/internal/source"
	"ratewatch/internal/store"
	"ratewatch/internal/transport"
	"ratewatch/internal/utils"
)

// Fetcher is the rate source contract the coordinator depends on.
type Fetcher interface {
	Fetch(ctx context.Context) (source.Snapshot, error)
}

// Notifier lets the coordinator surface persistent failures to the bot
// admins. Optional.
type Notifier interface {
	NotifyAdmins(ctx context.Context, text string)
}

type Coordinator struct {
	store  *store.Store
	src    Fetcher
	tp     transport.Transport
	notify Notifier
	logger zerolog.Logger

	// now is swappable for tests; defaults to Tehran wall clock.
	now func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// throttles failure notifications per chat
	mu             sync.Mutex
	lastFailNotify map[int64]time.Time
}

func New(st *store.Store, src Fetcher, tp transport.Transport, notify Notifier, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:          st,
		src:            src,
		tp:             tp,
		notify:         notify,
		logger:         logger.With().Str("component", "coordinator").Logger(),
		now:            utils.NowTehran,
		stopCh:         make(chan struct{}),
		lastFailNotify: map[int64]time.Time{},
	}
}

func (c *Coordinator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop()
	}()
}

// Stop is safe to call more than once: shutdown paths overlap (signal
// handler plus deferred Close).
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// loop sleeps until each minute boundary. One loop serves every target, so
// the number of timers stays constant no matter how many chats register.
func (c *Coordinator) loop() {
	for {
		now := c.now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		select {
		case <-time.After(time.Until(next)):
		case <-c.stopCh:
			return
		}
		c.safeTick()
	}
}

// safeTick shields the loop: whatever a tick does, the next one still runs.
func (c *Coordinator) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("tick panicked")
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 55*time.Second)
	defer cancel()
	c.RunTick(ctx, c.now())
}

// RunTick processes every target due on the tick's wall-clock minute.
//
// The fetch is shared: the first non-quiet due target triggers it and every
// later one reuses the snapshot. A fetch failure aborts the remaining batch
// and leaves those targets' slot markers untouched, so they stay eligible on
// their next aligned minute.
func (c *Coordinator) RunTick(ctx context.Context, now time.Time) {
	tickID := uuid.NewString()
	slot := schedule.Slot(now)
	logger := c.logger.With().Str("tick_id", tickID).Int64("slot", slot).Logger()

	chats, err := c.store.ListChats(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("list chats")
		return
	}

	var snap source.Snapshot
	fetched := false

	for _, chat := range chats {
		if !chat.Approved || !chat.Enabled {
			continue
		}
		settings, err := c.store.GetSettings(ctx, chat.ChatID)
		if err != nil {
			logger.Error().Err(err).Int64("chat_id", chat.ChatID).Msg("load settings")
			continue
		}
		if !schedule.Due(now, settings.IntervalMinutes) {
			continue
		}

		state, err := c.store.GetState(ctx, chat.ChatID)
		if err != nil {
			logger.Error().Err(err).Int64("chat_id", chat.ChatID).Msg("load state")
			continue
		}
		if state.LastSlot == slot {
			// Already processed this aligned minute (duplicate tick or
			// restart replay).
			continue
		}

		// Quiet suppression happens before any fetch-dependent work.
		// The slot still gets marked so the minute cannot re-fire.
		if schedule.InQuiet(now, settings.Quiet) {
			if err := c.store.MarkSlot(ctx, chat.ChatID, slot); err != nil {
				logger.Error().Err(err).Int64("chat_id", chat.ChatID).Msg("mark quiet slot")
			}
			logger.Debug().Int64("chat_id", chat.ChatID).Msg("quiet window, suppressed")
			continue
		}

		if !fetched {
			snap, err = c.src.Fetch(ctx)
			if err != nil {
				// Shared fetch failed: the whole batch is abandoned with
				// state untouched. Targets retry on their next aligned
				// minute, not necessarily the very next one.
				logger.Warn().Err(err).Msg("shared fetch failed, batch skipped")
				return
			}
			fetched = true
		}

		if err := c.processTarget(ctx, logger, chat, settings, state, snap, slot, false); err != nil {
			logger.Error().Err(err).Int64("chat_id", chat.ChatID).Msg("delivery failed")
			c.notifyFailure(ctx, chat.ChatID, err)
		}
	}
}

// SendNow is the administrative forced delivery: it skips the quiet and
// only-on-change gates but still fetches, renders, dispatches and persists.
func (c *Coordinator) SendNow(ctx context.Context, chatID int64) error {
	chat, err := c.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	settings, err := c.store.GetSettings(ctx, chatID)
	if err != nil {
		return err
	}
	state, err := c.store.GetState(ctx, chatID)
	if err != nil {
		return err
	}
	snap, err := c.src.Fetch(ctx)
	if err != nil {
		return err
	}
	// Forced sends do not consume the slot marker: a scheduled delivery in
	// the same minute still goes out.
	return c.processTarget(ctx, c.logger, chat, settings, state, snap, state.LastSlot, true)
}

func (c *Coordinator) processTarget(
	ctx context.Context,
	logger zerolog.Logger,
	chat store.Chat,
	settings store.Settings,
	state store.State,
	snap source.Snapshot,
	slot int64,
	forced bool,
) error {
	selected, err := c.store.EnabledItemIDs(ctx, chat.ChatID)
	if err != nil {
		return fmt.Errorf("load selection: %w", err)
	}

	out := render.BuildMessage(settings, selected, snap, state.LastValues, state.FirstDone)

	if !forced && settings.OnlyOnChange {
		triggers := triggerKeys(settings, selected)
		if !change.ShouldDeliver(state.LastValues, out.UsedValues, triggers, settings.ThresholdAbs, settings.ThresholdPct) {
			// Suppressed, but the baseline moves to the fresh snapshot so
			// later comparisons never run against stale data.
			state.LastValues = out.UsedValues
			state.LastSlot = slot
			if err := c.store.SaveState(ctx, chat.ChatID, state); err != nil {
				return fmt.Errorf("persist suppressed state: %w", err)
			}
			logger.Debug().Int64("chat_id", chat.ChatID).Msg("no significant change, suppressed")
			return nil
		}
	}

	msgID, err := c.dispatch(ctx, chat.ChatID, settings, state, out.Text)
	if err != nil {
		return err
	}

	state.LastValues = out.UsedValues
	state.LastMessageID = msgID
	state.LastSlot = slot
	state.FirstDone = true
	if err := c.store.SaveState(ctx, chat.ChatID, state); err != nil {
		return fmt.Errorf("persist delivered state: %w", err)
	}
	logger.Info().Int64("chat_id", chat.ChatID).Int64("message_id", msgID).Bool("forced", forced).Msg("delivered")
	return nil
}

// dispatch edits the previous message in edit mode, falling back to a fresh
// send when the edit is rejected (message too old, deleted, or permissions
// changed).
func (c *Coordinator) dispatch(ctx context.Context, chatID int64, settings store.Settings, state store.State, text string) (int64, error) {
	if settings.PostMode == "edit" && state.LastMessageID != 0 {
		err := c.tp.Edit(ctx, chatID, state.LastMessageID, text)
		if err == nil {
			return state.LastMessageID, nil
		}
		c.logger.Debug().Err(err).Int64("chat_id", chatID).Msg("edit failed, sending new message")
	}
	msgID, err := c.tp.Send(ctx, chatID, text)
	if err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}
	return msgID, nil
}

// triggerKeys resolves the configured trigger items (or, when none are
// configured, the full selection) to upstream field keys on the target's
// price side.
func triggerKeys(settings store.Settings, selected []string) []string {
	ids := settings.Triggers
	if len(ids) == 0 {
		ids = selected
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		it, ok := items.ByID(id)
		if !ok {
			continue
		}
		keys = append(keys, items.Key(it, settings.PriceSide))
	}
	return keys
}

func (c *Coordinator) notifyFailure(ctx context.Context, chatID int64, err error) {
	if c.notify == nil {
		return
	}
	c.mu.Lock()
	last := c.lastFailNotify[chatID]
	if time.Since(last) < 30*time.Minute {
		c.mu.Unlock()
		return
	}
	c.lastFailNotify[chatID] = time.Now()
	c.mu.Unlock()

	text := fmt.Sprintf("⚠️ خطا در ارسال برای چت %d\nخطا: %v", chatID, err)
	if errors.Is(err, source.ErrSourceUnavailable) {
		text = fmt.Sprintf("⚠️ منبع نرخ در دسترس نیست\nخطا: %v", err)
	}
	c.notify.NotifyAdmins(ctx, text)
}

// SetNow overrides the coordinator's clock. Test hook.
func (c *Coordinator) SetNow(now func() time.Time) {
	c.now = now
}
