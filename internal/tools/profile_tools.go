package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nugget/coach-ai-agent/internal/store"
)

// Replies of the erase-everything flow, shared with the chat bridge.
const (
	EraseConfirmPrompt = "Para borrar todo lo que sé de ti, responde exactamente: SÍ"
	EraseDoneReply     = "He borrado todo lo que tenía guardado de ti. Empezamos de cero."
)

func (r *Registry) registerProfileTools() {
	r.Register(&Tool{
		Name:        "add_preference_or_rule",
		Description: "Guardar preferencia, regla o nota para la entrenadora.",
		Parameters: objectSchema(map[string]any{
			"content": map[string]any{"type": "string"},
			"kind":    map[string]any{"type": "string", "enum": []string{"rule", "preference", "note"}},
		}, "content"),
		Handler: handleAddPreference,
	})

	r.Register(&Tool{
		Name:        "get_my_stored_info_summary",
		Description: "Resumen de lo guardado del usuario (preferencias, plan) sin borrar.",
		Parameters:  objectSchema(nil),
		Handler:     handleStoredInfoSummary,
	})

	r.Register(&Tool{
		Name:        "delete_all_my_data",
		Description: "Eliminar TODO del usuario. SOLO llamar tras confirmación explícita (SÍ).",
		Parameters:  objectSchema(nil),
		Handler:     handleDeleteAllMyData,
	})

	r.Register(&Tool{
		Name:        "clear_preferences",
		Description: "Borrar solo las preferencias/reglas guardadas.",
		Parameters:  objectSchema(nil),
		Handler:     handleClearPreferences,
	})
}

func handleAddPreference(_ context.Context, env Env, args map[string]any) (string, error) {
	content, err := requiredString(args, "content")
	if err != nil {
		return "", err
	}
	if err := env.Store.AddPreference(env.UserID, stringArg(args, "kind"), content); err != nil {
		return "", err
	}
	return "Lo he guardado y lo tendré en cuenta.", nil
}

func handleStoredInfoSummary(_ context.Context, env Env, _ map[string]any) (string, error) {
	prefs, err := env.Store.Preferences(env.UserID)
	if err != nil {
		return "", err
	}
	period, err := env.Store.ActivePeriod(env.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	lines := []string{"Preferencias/reglas guardadas:"}
	for _, p := range prefs {
		lines = append(lines, fmt.Sprintf("- [%s] %s", p.Kind, p.Content))
	}
	if period != nil {
		lines = append(lines, fmt.Sprintf("\nPlanificación activa: desde %s hasta %s (%d semanas).",
			period.StartDate, period.EndDate, period.TotalWeeks))
	} else {
		lines = append(lines, "\nNo hay planificación activa.")
	}
	return strings.Join(lines, "\n"), nil
}

// handleDeleteAllMyData is two-step: the first call arms a confirmation,
// a later call erases. When the caller recorded the arm state at the
// start of the turn, only an arm from an earlier turn counts.
func handleDeleteAllMyData(ctx context.Context, env Env, _ map[string]any) (string, error) {
	u, err := env.User()
	if errors.Is(err, store.ErrNotFound) {
		return "Usuario no encontrado.", nil
	}
	if err != nil {
		return "", err
	}

	armed := u.PendingDelete
	if atStart, ok := eraseArmedAtStart(ctx); ok {
		armed = armed && atStart
	}
	if !armed {
		if err := env.Store.SetPendingDelete(env.UserID, true); err != nil {
			return "", err
		}
		return EraseConfirmPrompt, nil
	}

	if err := env.Store.DeleteAllUserData(env.UserID); err != nil {
		return "", err
	}
	env.Logger.Info("user data erased", "user_id", env.UserID)
	return EraseDoneReply, nil
}

func handleClearPreferences(_ context.Context, env Env, _ map[string]any) (string, error) {
	if err := env.Store.ClearPreferences(env.UserID); err != nil {
		return "", err
	}
	return "Preferencias y reglas borradas.", nil
}
