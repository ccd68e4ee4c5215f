// Package render turns a snapshot into the delivered message text.
package render

import (
	"fmt"
	"strings"

	"ratewatch/internal/items"
	"ratewatch/internal/source"
	"ratewatch/internal/store"
	"ratewatch/internal/utils"
)

// RLM keeps mixed Persian/digit lines rendering right-to-left.
const rlm = "‏"

const separator = "_______________________"

type Output struct {
	Text string
	// UsedValues holds the value each rendered item was displayed/compared
	// on, keyed by upstream field. This is what gets persisted as the
	// target's last-delivered values.
	UsedValues map[string]float64
}

// BuildMessage renders selected items in category sections with change
// arrows against lastValues. Arrows are suppressed until the target's first
// delivery has happened, so the very first post carries no direction marks.
func BuildMessage(settings store.Settings, selected []string, snap source.Snapshot, lastValues map[string]float64, firstDone bool) Output {
	used := map[string]float64{}
	sections := map[items.Category][]string{}

	for _, id := range selected {
		it, ok := items.ByID(id)
		if !ok {
			continue
		}
		key := items.Key(it, settings.PriceSide)
		cur, ok := snap.Values[key]
		if !ok {
			continue
		}
		used[key] = cur

		arrow := ""
		if firstDone {
			if prev, ok := lastValues[key]; ok {
				if cur > prev {
					arrow = " ▲"
				} else if cur < prev {
					arrow = " 🔻"
				}
			}
		}

		price := utils.FormatValue(cur, it.Kind, settings.FaDigits)
		line := rlm + it.Emoji + " " + it.NameFa + " " + price + arrow
		sections[it.Category] = append(sections[it.Category], line)
	}

	var parts []string
	for _, cat := range []items.Category{items.CategoryCurrency, items.CategoryCoin, items.CategoryMarket} {
		if lines := sections[cat]; len(lines) > 0 {
			parts = append(parts, strings.Join(lines, "\n"))
		}
	}

	body := strings.Join(parts, "\n"+rlm+separator+"\n")
	ts := timestamp(snap, settings.FaDigits)
	body += "\n" + rlm + separator + "\n" + rlm + ts

	return Output{Text: strings.TrimSpace(body), UsedValues: used}
}

// timestamp prefers the upstream's own Jalali clock fields; when the
// response lacks them it falls back to the local Tehran time.
func timestamp(snap source.Snapshot, faDigits bool) string {
	var ts string
	if snap.Clock.Valid {
		ts = fmt.Sprintf("%04d/%02d/%02d - %02d:%02d",
			snap.Clock.Year, snap.Clock.Month, snap.Clock.Day, snap.Clock.Hour, snap.Clock.Minute)
	} else {
		ts = utils.JalaliDateTime(snap.FetchedAt)
	}
	if faDigits {
		ts = utils.ToPersianDigits(ts)
	}
	return ts
}
