package store

import (
	"context"
	"encoding/json"
	"fmt"

	"ratewatch/internal/schedule"
)

// Settings is the per-target delivery configuration.
type Settings struct {
	ChatID          int64             `json:"chat_id"`
	IntervalMinutes int               `json:"interval_min"`
	Quiet           []schedule.Window `json:"quiet"`
	OnlyOnChange    bool              `json:"only_on_change"`
	ThresholdAbs    float64           `json:"threshold_abs"`
	ThresholdPct    float64           `json:"threshold_pct"`
	PriceSide       string            `json:"mode"`          // sell | buy
	PostMode        string            `json:"delivery_mode"` // new | edit
	Triggers        []string          `json:"triggers"`
	FaDigits        bool              `json:"fa_digits"`
}

func (s *Store) GetSettings(ctx context.Context, chatID int64) (Settings, error) {
	var st Settings
	var quietJSON, triggersJSON string
	var onlyOnChange, faDigits int
	err := s.sql.QueryRowContext(ctx,
		`SELECT chat_id,interval_minutes,quiet_windows,only_on_change,threshold_abs,threshold_pct,price_side,post_mode,triggers,fa_digits
		 FROM chat_settings WHERE chat_id=?`, chatID).
		Scan(&st.ChatID, &st.IntervalMinutes, &quietJSON, &onlyOnChange, &st.ThresholdAbs, &st.ThresholdPct, &st.PriceSide, &st.PostMode, &triggersJSON, &faDigits)
	if err != nil {
		return Settings{}, err
	}
	st.OnlyOnChange = onlyOnChange == 1
	st.FaDigits = faDigits == 1
	if err := json.Unmarshal([]byte(quietJSON), &st.Quiet); err != nil {
		return Settings{}, fmt.Errorf("corrupt quiet windows for chat %d: %w", chatID, err)
	}
	if err := json.Unmarshal([]byte(triggersJSON), &st.Triggers); err != nil {
		return Settings{}, fmt.Errorf("corrupt triggers for chat %d: %w", chatID, err)
	}
	if st.IntervalMinutes < 1 {
		st.IntervalMinutes = 5
	}
	return st, nil
}

func (s *Store) SetInterval(ctx context.Context, chatID int64, minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("interval must be >= 1 minute, got %d", minutes)
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_settings SET interval_minutes=? WHERE chat_id=?`, minutes, chatID)
	return err
}

func (s *Store) SetQuietWindows(ctx context.Context, chatID int64, windows []schedule.Window) error {
	if windows == nil {
		windows = []schedule.Window{}
	}
	b, err := json.Marshal(windows)
	if err != nil {
		return err
	}
	_, err = s.sql.ExecContext(ctx, `UPDATE chat_settings SET quiet_windows=? WHERE chat_id=?`, string(b), chatID)
	return err
}

func (s *Store) SetOnlyOnChange(ctx context.Context, chatID int64, v bool) error {
	val := 0
	if v {
		val = 1
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_settings SET only_on_change=? WHERE chat_id=?`, val, chatID)
	return err
}

func (s *Store) SetThresholds(ctx context.Context, chatID int64, abs, pct float64) error {
	if abs < 0 || pct < 0 {
		return fmt.Errorf("thresholds must be non-negative (abs=%v pct=%v)", abs, pct)
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_settings SET threshold_abs=?, threshold_pct=? WHERE chat_id=?`, abs, pct, chatID)
	return err
}

func (s *Store) SetPriceSide(ctx context.Context, chatID int64, side string) error {
	if side != "sell" && side != "buy" {
		return fmt.Errorf("invalid price side %q", side)
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_settings SET price_side=? WHERE chat_id=?`, side, chatID)
	return err
}

func (s *Store) SetPostMode(ctx context.Context, chatID int64, mode string) error {
	if mode != "new" && mode != "edit" {
		return fmt.Errorf("invalid post mode %q", mode)
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_settings SET post_mode=? WHERE chat_id=?`, mode, chatID)
	return err
}

func (s *Store) SetTriggers(ctx context.Context, chatID int64, triggers []string) error {
	if triggers == nil {
		triggers = []string{}
	}
	b, err := json.Marshal(triggers)
	if err != nil {
		return err
	}
	_, err = s.sql.ExecContext(ctx, `UPDATE chat_settings SET triggers=? WHERE chat_id=?`, string(b), chatID)
	return err
}

func (s *Store) SetFaDigits(ctx context.Context, chatID int64, v bool) error {
	val := 0
	if v {
		val = 1
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_settings SET fa_digits=? WHERE chat_id=?`, val, chatID)
	return err
}

// ExportSettings renders one chat's full record (chat row + settings +
// selection) as pretty JSON for the admin export command.
func (s *Store) ExportSettings(ctx context.Context, chatID int64) (string, error) {
	chat, err := s.GetChat(ctx, chatID)
	if err != nil {
		return "", err
	}
	settings, err := s.GetSettings(ctx, chatID)
	if err != nil {
		return "", err
	}
	selected, err := s.EnabledItemIDs(ctx, chatID)
	if err != nil {
		return "", err
	}
	payload := struct {
		ChatID   int64    `json:"chat_id"`
		Title    string   `json:"title"`
		Type     string   `json:"type"`
		Approved bool     `json:"approved"`
		AutoSend bool     `json:"auto_send"`
		Settings Settings `json:"config"`
		Selected []string `json:"selected"`
	}{chat.ChatID, chat.Title, chat.Type, chat.Approved, chat.Enabled, settings, selected}
	b, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
