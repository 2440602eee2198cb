package prompts

import (
	"fmt"
	"strings"
)

// Preference is the minimal view of a stored user rule.
type Preference struct {
	Kind    string
	Content string
}

// PreferencesContext lists the user's standing rules for the system
// prompt. It returns "" when there are none.
func PreferencesContext(prefs []Preference) string {
	if len(prefs) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Preferencias y reglas guardadas por el usuario (respétalas siempre):")
	for _, p := range prefs {
		fmt.Fprintf(&sb, "\n- [%s] %s", p.Kind, p.Content)
	}
	return sb.String()
}
