package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eventflow-io/eventflow/internal/event"
)

// Sentinel errors for business validation failures. All of them are
// permanent: the delivery is dead-lettered without retries.
var (
	ErrMissingAmount    = errors.New("purchase event requires a numeric amount property")
	ErrInvalidAmount    = errors.New("purchase amount must be positive")
	ErrMissingSubject   = errors.New("user_signup event requires a subject id")
	ErrFutureOccurredAt = errors.New("occurred_at cannot be in the future")
)

// validate applies the kind-specific business rules on top of the structural
// invariants. The rules are deterministic: same event and clock, same result.
func validate(ev *event.Event, now time.Time) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	if ev.OccurredAt.After(now) {
		return fmt.Errorf("%w: occurred %s, now %s",
			ErrFutureOccurredAt, ev.OccurredAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	switch ev.Kind {
	case event.KindPurchase:
		amount, ok := numericProperty(ev.Properties, "amount")
		if !ok {
			return ErrMissingAmount
		}

		if amount <= 0 {
			return fmt.Errorf("%w: got %v", ErrInvalidAmount, amount)
		}
	case event.KindUserSignup:
		if ev.SubjectID == "" {
			return ErrMissingSubject
		}
	case event.KindPageView, event.KindCustom:
		// No kind-specific rules.
	}

	return nil
}

// numericProperty extracts a property as float64, tolerating the numeric
// representations a JSON decode or a direct construction can produce.
func numericProperty(props map[string]interface{}, key string) (float64, bool) {
	raw, ok := props[key]
	if !ok {
		return 0, false
	}

	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
