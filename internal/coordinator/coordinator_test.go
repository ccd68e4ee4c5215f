package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ratewatch/internal/schedule"
	"ratewatch/internal/source"
	"ratewatch/internal/store"
)

type fakeFetcher struct {
	snaps []source.Snapshot
	errs  []error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context) (source.Snapshot, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return source.Snapshot{}, f.errs[i]
	}
	if i >= len(f.snaps) {
		i = len(f.snaps) - 1
	}
	return f.snaps[i], nil
}

type sentMsg struct {
	chatID int64
	text   string
}

type fakeTransport struct {
	sends     []sentMsg
	edits     []sentMsg
	nextMsgID int64
	failEdit  bool
	failSend  bool
}

func (f *fakeTransport) Send(ctx context.Context, chatID int64, text string) (int64, error) {
	if f.failSend {
		return 0, errors.New("send rejected")
	}
	f.nextMsgID++
	f.sends = append(f.sends, sentMsg{chatID, text})
	return f.nextMsgID, nil
}

func (f *fakeTransport) Edit(ctx context.Context, chatID int64, messageID int64, text string) error {
	if f.failEdit {
		return errors.New("message to edit not found")
	}
	f.edits = append(f.edits, sentMsg{chatID, text})
	return nil
}

func snapWith(usd1 float64) source.Snapshot {
	return source.Snapshot{
		Values:    map[string]float64{"usd1": usd1, "usd2": usd1 - 600},
		FetchedAt: time.Now(),
	}
}

// slotTime returns an aligned 5-minute wall-clock minute; successive calls
// with increasing n are successive slots.
func slotTime(n int) time.Time {
	return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC).Add(time.Duration(n*5) * time.Minute)
}

func setup(t *testing.T, ff *fakeFetcher, ft *fakeTransport) (*Coordinator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(st, ff, ft, nil, zerolog.Nop()), st
}

func registerTarget(t *testing.T, st *store.Store, chatID int64) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertChat(ctx, chatID, "test chat", "channel"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetChatApproved(ctx, chatID, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetChatEnabled(ctx, chatID, true); err != nil {
		t.Fatal(err)
	}
}

func TestOnlyOnChangeScenario(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000), snapWith(500000), snapWith(500500)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)

	registerTarget(t, st, 10)
	if err := st.SetOnlyOnChange(ctx, 10, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetTriggers(ctx, 10, []string{"usd"}); err != nil {
		t.Fatal(err)
	}

	// Slot 0: first observation, delivered.
	c.RunTick(ctx, slotTime(0))
	if len(ft.sends) != 1 {
		t.Fatalf("first tick should deliver, sends=%d", len(ft.sends))
	}

	// Slot 1: identical value, suppressed, but slot marker and baseline move.
	c.RunTick(ctx, slotTime(1))
	if len(ft.sends) != 1 {
		t.Fatalf("unchanged tick should be suppressed, sends=%d", len(ft.sends))
	}
	state, _ := st.GetState(ctx, 10)
	if state.LastSlot != schedule.Slot(slotTime(1)) {
		t.Fatalf("suppressed tick must advance slot marker: %d", state.LastSlot)
	}

	// Slot 2: usd moved by 500, delivered, state records the new value.
	c.RunTick(ctx, slotTime(2))
	if len(ft.sends) != 2 {
		t.Fatalf("changed tick should deliver, sends=%d", len(ft.sends))
	}
	state, _ = st.GetState(ctx, 10)
	if state.LastValues["usd1"] != 500500 {
		t.Fatalf("last values = %v, want usd1=500500", state.LastValues)
	}
	if !state.FirstDone {
		t.Fatal("first delivery flag should be set")
	}
}

func TestSlotReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)
	registerTarget(t, st, 11)

	now := slotTime(0)
	c.RunTick(ctx, now)
	c.RunTick(ctx, now.Add(20*time.Second)) // same minute, duplicate tick
	if len(ft.sends) != 1 {
		t.Fatalf("replayed slot must not double-deliver, sends=%d", len(ft.sends))
	}
}

func TestQuietTickSuppressesWithoutFetch(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)
	registerTarget(t, st, 12)

	// Quiet all day: every minute-of-day is inside [00:00, 23:59).
	if err := st.SetQuietWindows(ctx, 12, []schedule.Window{{Start: 0, End: 23*60 + 59}}); err != nil {
		t.Fatal(err)
	}

	now := slotTime(0)
	c.RunTick(ctx, now)
	if ff.calls != 0 {
		t.Fatalf("quiet tick must not fetch, calls=%d", ff.calls)
	}
	if len(ft.sends) != 0 {
		t.Fatal("quiet tick must not deliver")
	}
	state, _ := st.GetState(ctx, 12)
	if state.LastSlot != schedule.Slot(now) {
		t.Fatal("quiet tick must still mark the slot")
	}
}

func TestFetchFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{
		snaps: []source.Snapshot{{}, snapWith(500000)},
		errs:  []error{source.ErrSourceUnavailable, nil},
	}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)
	registerTarget(t, st, 13)

	c.RunTick(ctx, slotTime(0))
	if len(ft.sends) != 0 {
		t.Fatal("failed fetch must not deliver")
	}
	state, _ := st.GetState(ctx, 13)
	if state.LastSlot != 0 {
		t.Fatalf("failed fetch must not mark the slot, got %d", state.LastSlot)
	}

	// Next aligned minute succeeds.
	c.RunTick(ctx, slotTime(1))
	if len(ft.sends) != 1 {
		t.Fatalf("recovery tick should deliver, sends=%d", len(ft.sends))
	}
}

func TestEditFallsBackToNewSend(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000), snapWith(500500), snapWith(501000)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)
	registerTarget(t, st, 14)
	if err := st.SetPostMode(ctx, 14, "edit"); err != nil {
		t.Fatal(err)
	}

	// First delivery has no previous message, so it sends.
	c.RunTick(ctx, slotTime(0))
	if len(ft.sends) != 1 {
		t.Fatalf("sends=%d", len(ft.sends))
	}

	// Second delivery edits in place.
	c.RunTick(ctx, slotTime(1))
	if len(ft.edits) != 1 || len(ft.sends) != 1 {
		t.Fatalf("edit expected: edits=%d sends=%d", len(ft.edits), len(ft.sends))
	}

	// Third delivery: the edit is rejected, a new message replaces it.
	ft.failEdit = true
	c.RunTick(ctx, slotTime(2))
	if len(ft.sends) != 2 {
		t.Fatalf("fallback send expected, sends=%d", len(ft.sends))
	}
	state, _ := st.GetState(ctx, 14)
	if state.LastMessageID != 2 {
		t.Fatalf("new message id should be recorded, got %d", state.LastMessageID)
	}
}

func TestUnapprovedAndDisabledAreSkipped(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)

	if err := st.UpsertChat(ctx, 15, "pending", "group"); err != nil {
		t.Fatal(err)
	}
	if err := st.UpsertChat(ctx, 16, "approved but off", "group"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetChatApproved(ctx, 16, true); err != nil {
		t.Fatal(err)
	}

	c.RunTick(ctx, slotTime(0))
	if ff.calls != 0 || len(ft.sends) != 0 {
		t.Fatalf("nothing should run: calls=%d sends=%d", ff.calls, len(ft.sends))
	}
}

func TestIntervalGate(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)
	registerTarget(t, st, 17)
	if err := st.SetInterval(ctx, 17, 15); err != nil {
		t.Fatal(err)
	}

	// 12:05 is not a 15-minute slot.
	c.RunTick(ctx, slotTime(1))
	if len(ft.sends) != 0 {
		t.Fatal("off-slot minute must not deliver")
	}
	// 12:15 is.
	c.RunTick(ctx, slotTime(3))
	if len(ft.sends) != 1 {
		t.Fatalf("aligned minute should deliver, sends=%d", len(ft.sends))
	}
}

func TestSendNowBypassesGates(t *testing.T) {
	ctx := context.Background()
	ff := &fakeFetcher{snaps: []source.Snapshot{snapWith(500000), snapWith(500000)}}
	ft := &fakeTransport{}
	c, st := setup(t, ff, ft)
	registerTarget(t, st, 18)
	if err := st.SetOnlyOnChange(ctx, 18, true); err != nil {
		t.Fatal(err)
	}
	if err := st.SetQuietWindows(ctx, 18, []schedule.Window{{Start: 0, End: 23*60 + 59}}); err != nil {
		t.Fatal(err)
	}

	// Scheduled delivery is fully gated...
	c.RunTick(ctx, slotTime(0))
	if len(ft.sends) != 0 {
		t.Fatal("scheduled tick should be quiet-suppressed")
	}

	// ...but the forced send goes out and persists state.
	if err := c.SendNow(ctx, 18); err != nil {
		t.Fatalf("SendNow: %v", err)
	}
	if len(ft.sends) != 1 {
		t.Fatalf("forced send expected, sends=%d", len(ft.sends))
	}
	state, _ := st.GetState(ctx, 18)
	if state.LastValues["usd1"] != 500000 || !state.FirstDone {
		t.Fatalf("forced send must persist state: %+v", state)
	}
}

func TestStopTwiceDoesNotPanic(t *testing.T) {
	ff := &fakeFetcher{}
	ft := &fakeTransport{}
	c, _ := setup(t, ff, ft)

	c.Start()
	c.Stop()
	// Shutdown paths overlap in main (signal handler and deferred Close);
	// a second Stop must be a no-op.
	c.Stop()
}
