package prompts

import (
	"fmt"
	"strings"
)

// FeedbackActivity is what the feedback request needs to know about one
// synced activity.
type FeedbackActivity struct {
	Name        string
	Type        string
	DistanceM   float64
	MovingTimeS int
}

// ActivityFeedbackRequest asks the athlete how newly synced activities
// went. It returns "" for an empty list.
func ActivityFeedbackRequest(acts []FeedbackActivity) string {
	if len(acts) == 0 {
		return ""
	}
	var sb strings.Builder
	if len(acts) == 1 {
		sb.WriteString("¡Vi tu nueva actividad en Strava!")
	} else {
		fmt.Fprintf(&sb, "¡Vi %d actividades nuevas en Strava!", len(acts))
	}
	for _, a := range acts {
		fmt.Fprintf(&sb, "\n- %s (%s): %.1f km, %d min", a.Name, a.Type, a.DistanceM/1000, a.MovingTimeS/60)
	}
	sb.WriteString("\n¿Cómo te sentiste? Cuéntame si hubo molestias o algo que deba tener en cuenta.")
	return sb.String()
}
