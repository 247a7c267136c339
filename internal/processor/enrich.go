package processor

import (
	"time"

	"github.com/eventflow-io/eventflow/internal/event"
)

// Enrichment category values for purchase events.
const (
	categoryStandard  = "standard"
	categoryHighValue = "high_value"
)

// enrich derives the enrichment snapshot for a validated event. The function
// is pure: it reads only the event, the threshold, the rules overlay, and the
// supplied clock, and never mutates the event. Re-running it on the same
// inputs yields the same snapshot, which keeps redeliveries idempotent.
func enrich(ev *event.Event, workerID string, threshold float64, rules *Rules, now time.Time) map[string]interface{} {
	enrichment := map[string]interface{}{
		"worker_id":            workerID,
		"processing_timestamp": now.UTC().Format(time.RFC3339Nano),
	}

	switch ev.Kind {
	case event.KindPurchase:
		category := categoryStandard

		if amount, ok := numericProperty(ev.Properties, "amount"); ok && amount > threshold {
			category = categoryHighValue
			enrichment["tag"] = "high_value"
		}

		enrichment["category"] = category
	case event.KindPageView:
		enrichment["session_start"] = ev.OccurredAt.UTC().Format(time.RFC3339Nano)
	case event.KindUserSignup, event.KindCustom:
		// No kind-specific enrichment beyond the rules overlay.
	}

	if rules != nil {
		if extra := rules.KindTags[ev.Kind.String()]; len(extra) > 0 {
			enrichment["tags"] = extra
		}
	}

	return enrichment
}
