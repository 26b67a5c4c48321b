package workflow

import (
	"fmt"

	"github.com/commflow/commflow/model"
)

// MatchesTrigger reports whether an event fires a workflow trigger: the types
// must be equal and every trigger config key must equal the payload value.
func MatchesTrigger(trigger model.Trigger, event model.Event) bool {
	if trigger.Type != event.Type {
		return false
	}
	for key, want := range trigger.Config {
		got, ok := event.Payload[key]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
