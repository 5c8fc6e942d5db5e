package playback

import (
	"strings"
	"time"

	"github.com/noahxzhu/alarm-notify/internal/model"
)

// Phrase builds the spoken announcement for an item firing at `at`.
func Phrase(item model.Item, at time.Time) string {
	clock := at.Format("3:04 PM")
	var parts []string
	switch item.Kind {
	case model.KindReminder:
		parts = append(parts, "Reminder: "+item.DisplayName+" at "+clock+".")
	default:
		parts = append(parts, "It's "+clock+".")
		// Alarms without a user-supplied name carry their id as name.
		if item.DisplayName != "" && item.DisplayName != item.ID {
			parts = append(parts, item.DisplayName+".")
		}
	}
	if msg := strings.TrimSpace(item.MessageText()); msg != "" {
		parts = append(parts, msg)
	}
	return strings.Join(parts, " ")
}
