package observe

import (
	"context"

	"github.com/runanywhere/racore/pkg/racevent"
)

// SubscribeMetrics subscribes a handler on bus that turns every published
// inference-end and error [racevent.Event] into an OTel instrument update
// (events of other categories are not recorded): a completed call
// increments [Metrics.ComponentRequests] with status "ok", a failed one
// increments both ComponentRequests (status "error") and ComponentErrors.
// This is the bridge spec §4.2/§4.7 assume between "every call publishes an
// event" and "every call is observable through the metrics surface" — the
// bus and the metrics pipeline are otherwise unaware of each other.
func SubscribeMetrics(bus *racevent.Bus, m *Metrics) racevent.Subscription {
	return bus.Subscribe(racevent.CategoryInferenceEnd|racevent.CategoryError, func(evt racevent.Event) {
		capability, _ := evt.Payload["capability"].(string)
		framework, _ := evt.Payload["framework"].(string)
		ctx := context.Background()
		switch evt.Category {
		case racevent.CategoryError:
			m.RecordComponentError(ctx, capability, framework)
			m.RecordComponentRequest(ctx, capability, framework, "error")
		case racevent.CategoryInferenceEnd:
			m.RecordComponentRequest(ctx, capability, framework, "ok")
		}
	})
}
