package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/coach-ai-agent/internal/store"
)

func (r *Registry) registerDailyTools() {
	r.Register(&Tool{
		Name:        "get_today_plan",
		Description: "Obtener qué tiene el usuario planeado para hoy.",
		Parameters:  objectSchema(nil),
		Handler:     handleTodayPlan,
	})

	r.Register(&Tool{
		Name:        "get_week_summary",
		Description: "Resumen de entrenamiento de la semana.",
		Parameters:  objectSchema(nil),
		Handler:     handleWeekSummary,
	})

	r.Register(&Tool{
		Name:        "set_timezone",
		Description: "Cambiar la zona horaria del usuario.",
		Parameters: objectSchema(map[string]any{
			"timezone": map[string]any{"type": "string"},
		}, "timezone"),
		Handler: handleSetTimezone,
	})
}

func (r *Registry) registerGenerateTool() {
	r.Register(&Tool{
		Name:        "generate_new_planning",
		Description: "Generar una nueva planificación de entrenamiento (N semanas, método noruego) y guardarla. Usar cuando el usuario pida empezar de cero o generar nueva planificación.",
		Parameters:  objectSchema(nil),
		Handler:     handleGeneratePlanning,
	})
}

// WeekBounds returns the Monday and Sunday of the week containing day.
func WeekBounds(day time.Time) (time.Time, time.Time) {
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 6)
}

func handleTodayPlan(_ context.Context, env Env, _ map[string]any) (string, error) {
	w, err := env.currentWeek()
	if err != nil {
		return "", err
	}
	if w == nil {
		return "No hay plan esta semana. ¿Quieres que genere una nueva planificación?", nil
	}
	return "Hoy corresponde según tu plan:\n" + w.Content, nil
}

func handleWeekSummary(_ context.Context, env Env, _ map[string]any) (string, error) {
	u, err := env.User()
	if err != nil {
		return "", err
	}
	monday, sunday := WeekBounds(env.Today(u))
	start, end := monday.Format(store.DateLayout), sunday.Format(store.DateLayout)

	acts, err := env.Store.ActivitiesBetween(env.UserID, start, end)
	if err != nil {
		return "", err
	}
	if len(acts) == 0 {
		return "Esta semana no hay actividades registradas en Strava aún.", nil
	}

	lines := []string{fmt.Sprintf("Resumen semana %s - %s:", start, end)}
	for _, a := range acts {
		date := a.StartDate
		if len(date) > 10 {
			date = date[:10]
		}
		lines = append(lines, fmt.Sprintf("- %s: %s (%s), %d min", date, a.Name, a.Type, a.MovingTimeS/60))
	}
	return strings.Join(lines, "\n"), nil
}

func handleSetTimezone(ctx context.Context, env Env, args map[string]any) (string, error) {
	tz, err := requiredString(args, "timezone")
	if err != nil {
		return "", err
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("unknown timezone %q", tz)
	}
	if err := env.Store.SetTimezone(env.UserID, tz); err != nil {
		return "", err
	}
	env.reschedule(ctx)
	return fmt.Sprintf("Zona horaria actualizada a %s.", tz), nil
}

func handleGeneratePlanning(ctx context.Context, env Env, _ map[string]any) (string, error) {
	if env.Planner == nil {
		return "", fmt.Errorf("plan generation is not available")
	}
	return env.Planner.Generate(ctx, env.UserID)
}
