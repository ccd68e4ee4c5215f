package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// State is the per-target delivery state. Unlike Settings it changes on
// every tick, so it lives in its own row and is written after every attempt.
type State struct {
	LastValues    map[string]float64 `json:"last_values"`
	LastMessageID int64              `json:"last_message_id,omitempty"`
	LastSlot      int64              `json:"last_slot"`
	FirstDone     bool               `json:"first_delivery_done"`
}

// GetState loads a chat's delivery state. A chat that has never been
// processed yields the zero state.
func (s *Store) GetState(ctx context.Context, chatID int64) (State, error) {
	var valuesJSON string
	var mid sql.NullInt64
	var firstDone int
	st := State{}
	err := s.sql.QueryRowContext(ctx,
		`SELECT last_values,last_message_id,last_slot,first_done FROM chat_state WHERE chat_id=?`, chatID).
		Scan(&valuesJSON, &mid, &st.LastSlot, &firstDone)
	if errors.Is(err, sql.ErrNoRows) {
		return State{LastValues: map[string]float64{}}, nil
	}
	if err != nil {
		return State{}, err
	}
	st.FirstDone = firstDone == 1
	if mid.Valid {
		st.LastMessageID = mid.Int64
	}
	if err := json.Unmarshal([]byte(valuesJSON), &st.LastValues); err != nil {
		return State{}, fmt.Errorf("corrupt last values for chat %d: %w", chatID, err)
	}
	if st.LastValues == nil {
		st.LastValues = map[string]float64{}
	}
	return st, nil
}

// SaveState persists the full state row. Targets touch disjoint rows, so a
// concurrent tick for another chat never conflicts here.
func (s *Store) SaveState(ctx context.Context, chatID int64, st State) error {
	b, err := json.Marshal(st.LastValues)
	if err != nil {
		return err
	}
	var mid sql.NullInt64
	if st.LastMessageID != 0 {
		mid = sql.NullInt64{Int64: st.LastMessageID, Valid: true}
	}
	firstDone := 0
	if st.FirstDone {
		firstDone = 1
	}
	_, err = s.sql.ExecContext(ctx,
		`INSERT INTO chat_state(chat_id,last_values,last_message_id,last_slot,first_done,updated_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   last_values=excluded.last_values,
		   last_message_id=excluded.last_message_id,
		   last_slot=excluded.last_slot,
		   first_done=excluded.first_done,
		   updated_at=excluded.updated_at`,
		chatID, string(b), mid, st.LastSlot, firstDone, time.Now().Unix())
	return err
}

// MarkSlot advances only the slot marker, used by quiet-suppressed ticks
// where nothing else about the state changes.
func (s *Store) MarkSlot(ctx context.Context, chatID int64, slot int64) error {
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO chat_state(chat_id,last_slot,updated_at) VALUES(?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET last_slot=excluded.last_slot, updated_at=excluded.updated_at`,
		chatID, slot, time.Now().Unix())
	return err
}
