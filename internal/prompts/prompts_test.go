package prompts

import (
	"strings"
	"testing"
)

func TestCoachSystemPrompt(t *testing.T) {
	bare := CoachSystemPrompt("  ")
	if !strings.Contains(bare, "delete_all_my_data") || !strings.Contains(bare, "get_today_plan") {
		t.Error("house rules missing from system prompt")
	}
	if strings.HasSuffix(bare, "\n") {
		t.Error("blank context should not add trailing separators")
	}

	withCtx := CoachSystemPrompt("Contexto X")
	if !strings.HasSuffix(withCtx, "\n\nContexto X") {
		t.Errorf("context not appended: %q", withCtx[len(withCtx)-30:])
	}
}

func TestPreferencesContext(t *testing.T) {
	if got := PreferencesContext(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
	got := PreferencesContext([]Preference{{Kind: "rule", Content: "No correr los domingos"}})
	if !strings.HasSuffix(got, "\n- [rule] No correr los domingos") {
		t.Errorf("PreferencesContext() = %q", got)
	}
}

func TestPlanningSystemPrompt(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		want      []string
		notWant   []string
	}{
		{
			name:    "no reference",
			want:    []string{"planificación de 12 semanas", `{"weeks":[`},
			notWant: []string{"Contexto de referencia"},
		},
		{
			name:      "with reference",
			reference: "[metodo]\numbral doble",
			want:      []string{"Contexto de referencia:\n[metodo]\numbral doble\nResponde"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanningSystemPrompt(12, tt.reference)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing %q", w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(got, w) {
					t.Errorf("unexpected %q", w)
				}
			}
		})
	}

	if got := PlanningUserPrompt(12); got != "Genera la planificación de 12 semanas. Responde solo el JSON." {
		t.Errorf("PlanningUserPrompt() = %q", got)
	}
}

func TestActivityFeedbackRequest(t *testing.T) {
	if got := ActivityFeedbackRequest(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}

	one := ActivityFeedbackRequest([]FeedbackActivity{{Name: "Rodaje", Type: "Run", DistanceM: 8040, MovingTimeS: 2700}})
	if !strings.HasPrefix(one, "¡Vi tu nueva actividad en Strava!") || !strings.Contains(one, "- Rodaje (Run): 8.0 km, 45 min") {
		t.Errorf("single activity = %q", one)
	}

	two := ActivityFeedbackRequest(make([]FeedbackActivity, 2))
	if !strings.HasPrefix(two, "¡Vi 2 actividades nuevas en Strava!") {
		t.Errorf("two activities = %q", two)
	}
}
