package render

import (
	"strings"
	"testing"
	"time"

	"ratewatch/internal/source"
	"ratewatch/internal/store"
)

func testSnapshot() source.Snapshot {
	return source.Snapshot{
		Values: map[string]float64{
			"usd1": 105500, "usd2": 104900,
			"emami1":  71500000,
			"bitcoin": 64250.75,
		},
		Clock:     source.Clock{Year: 1404, Month: 6, Day: 5, Hour: 14, Minute: 30, Valid: true},
		FetchedAt: time.Now(),
	}
}

func TestBuildMessageSections(t *testing.T) {
	t.Parallel()
	settings := store.Settings{PriceSide: "sell"}
	out := BuildMessage(settings, []string{"usd", "coin_emami", "btc"}, testSnapshot(), nil, false)

	if !strings.Contains(out.Text, "105,500") {
		t.Fatalf("usd price missing:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "71,500,000") {
		t.Fatalf("coin price missing:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "64,250.75") {
		t.Fatalf("btc price should keep decimals:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "1404/06/05 - 14:30") {
		t.Fatalf("upstream timestamp missing:\n%s", out.Text)
	}
	if out.UsedValues["usd1"] != 105500 {
		t.Fatalf("UsedValues = %v", out.UsedValues)
	}
}

func TestBuildMessageBuySide(t *testing.T) {
	t.Parallel()
	settings := store.Settings{PriceSide: "buy"}
	out := BuildMessage(settings, []string{"usd"}, testSnapshot(), nil, false)
	if !strings.Contains(out.Text, "104,900") {
		t.Fatalf("buy side should use usd2:\n%s", out.Text)
	}
	if _, ok := out.UsedValues["usd2"]; !ok {
		t.Fatalf("UsedValues keyed on buy field: %v", out.UsedValues)
	}
}

func TestArrows(t *testing.T) {
	t.Parallel()
	settings := store.Settings{PriceSide: "sell"}
	last := map[string]float64{"usd1": 105000}

	// First delivery not done yet: no arrows even with history.
	out := BuildMessage(settings, []string{"usd"}, testSnapshot(), last, false)
	if strings.Contains(out.Text, "▲") || strings.Contains(out.Text, "🔻") {
		t.Fatalf("no arrows before first delivery:\n%s", out.Text)
	}

	out = BuildMessage(settings, []string{"usd"}, testSnapshot(), last, true)
	if !strings.Contains(out.Text, "▲") {
		t.Fatalf("up arrow expected:\n%s", out.Text)
	}

	out = BuildMessage(settings, []string{"usd"}, testSnapshot(), map[string]float64{"usd1": 106000}, true)
	if !strings.Contains(out.Text, "🔻") {
		t.Fatalf("down arrow expected:\n%s", out.Text)
	}

	// Equal values carry no arrow.
	out = BuildMessage(settings, []string{"usd"}, testSnapshot(), map[string]float64{"usd1": 105500}, true)
	if strings.Contains(out.Text, "▲") || strings.Contains(out.Text, "🔻") {
		t.Fatalf("no arrow on equal values:\n%s", out.Text)
	}
}

func TestMissingFieldSkipped(t *testing.T) {
	t.Parallel()
	settings := store.Settings{PriceSide: "sell"}
	out := BuildMessage(settings, []string{"usd", "eur"}, testSnapshot(), nil, false)
	if strings.Contains(out.Text, "یورو") {
		t.Fatalf("eur has no value in the snapshot and should be skipped:\n%s", out.Text)
	}
}

func TestPersianDigits(t *testing.T) {
	t.Parallel()
	settings := store.Settings{PriceSide: "sell", FaDigits: true}
	out := BuildMessage(settings, []string{"usd"}, testSnapshot(), nil, false)
	if strings.Contains(out.Text, "105,500") {
		t.Fatalf("digits should be Persian:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "۱۰۵,۵۰۰") {
		t.Fatalf("Persian digits expected:\n%s", out.Text)
	}
}
