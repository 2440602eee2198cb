package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/coach-ai-agent/internal/config"
	"github.com/nugget/coach-ai-agent/internal/store"
)

func (r *Registry) registerPlanTools() {
	r.Register(&Tool{
		Name:        "change_plan_delivery_day",
		Description: "Cambiar el día de la semana en que se envía el plan de entrenamiento (ej. a martes o lunes).",
		Parameters: objectSchema(map[string]any{
			"day": map[string]any{
				"type":        "string",
				"description": "Día en inglés: monday, tuesday, ...",
				"enum":        weekdayEnum,
			},
		}, "day"),
		Handler: handleChangeDeliveryDay,
	})

	r.Register(&Tool{
		Name:        "change_plan_delivery_schedule",
		Description: "Cambiar día y hora de envío del plan.",
		Parameters: objectSchema(map[string]any{
			"day":    map[string]any{"type": "string", "enum": weekdayEnum},
			"hour":   map[string]any{"type": "integer", "description": "Hora (0-23)", "minimum": 0, "maximum": 23},
			"minute": map[string]any{"type": "integer", "description": "Minuto (0-59)", "minimum": 0, "maximum": 59},
		}, "day", "hour", "minute"),
		Handler: handleChangeDeliverySchedule,
	})

	r.Register(&Tool{
		Name:        "reset_planning",
		Description: "Empezar la planificación desde cero. Borra el plan actual.",
		Parameters:  objectSchema(nil),
		Handler:     handleResetPlanning,
	})

	r.Register(&Tool{
		Name:        "send_plan_now",
		Description: "Obtener el plan de la semana actual para mostrarlo/enviarlo al usuario.",
		Parameters:  objectSchema(nil),
		Handler:     handleSendPlanNow,
	})

	r.Register(&Tool{
		Name:        "get_current_plan_week",
		Description: "Obtener el contenido del plan de la semana actual.",
		Parameters:  objectSchema(nil),
		Handler:     handleCurrentPlanWeek,
	})

	r.Register(&Tool{
		Name:        "get_planning_status",
		Description: "Saber en qué semana de planificación va el usuario y cuántas quedan.",
		Parameters:  objectSchema(nil),
		Handler:     handlePlanningStatus,
	})

	r.Register(&Tool{
		Name:        "pause_plan_delivery",
		Description: "Pausar el envío automático del plan.",
		Parameters:  objectSchema(nil),
		Handler:     handlePauseDelivery,
	})

	r.Register(&Tool{
		Name:        "resume_plan_delivery",
		Description: "Reanudar el envío automático del plan.",
		Parameters:  objectSchema(nil),
		Handler:     handleResumeDelivery,
	})
}

func parseDay(args map[string]any) (string, error) {
	day, err := requiredString(args, "day")
	if err != nil {
		return "", err
	}
	wd, ok := config.ParseWeekday(day)
	if !ok {
		return "", fmt.Errorf("unknown weekday %q", day)
	}
	return config.Weekdays[wd], nil
}

// reschedule pushes the user's current delivery settings to the
// scheduler. The settings are already stored, so failures only log.
func (e Env) reschedule(ctx context.Context) {
	if e.Delivery == nil {
		return
	}
	u, err := e.User()
	if err == nil {
		err = e.Delivery.Reschedule(ctx, u)
	}
	if err != nil {
		e.Logger.Warn("plan delivery reschedule failed", "user_id", e.UserID, "error", err)
	}
}

func handleChangeDeliveryDay(ctx context.Context, env Env, args map[string]any) (string, error) {
	day, err := parseDay(args)
	if err != nil {
		return "", err
	}
	if err := env.Store.SetDeliveryDay(env.UserID, day); err != nil {
		return "", err
	}
	env.reschedule(ctx)
	return fmt.Sprintf("Listo. A partir de ahora te enviaré el plan los %s.", day), nil
}

func handleChangeDeliverySchedule(ctx context.Context, env Env, args map[string]any) (string, error) {
	day, err := parseDay(args)
	if err != nil {
		return "", err
	}
	hour, err := intArg(args, "hour", 7)
	if err != nil {
		return "", err
	}
	minute, err := intArg(args, "minute", 0)
	if err != nil {
		return "", err
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return "", fmt.Errorf("time %d:%d out of range", hour, minute)
	}
	if err := env.Store.SetDeliverySchedule(env.UserID, day, hour, minute); err != nil {
		return "", err
	}
	env.reschedule(ctx)
	return fmt.Sprintf("Listo. Te enviaré el plan los %s a las %02d:%02d.", day, hour, minute), nil
}

func handleResetPlanning(_ context.Context, env Env, _ map[string]any) (string, error) {
	if err := env.Store.ResetPlanning(env.UserID); err != nil {
		return "", err
	}
	return "Planificación reiniciada. La próxima vez que toque enviar plan, generaré uno nuevo desde cero.", nil
}

// currentWeek returns the active plan week containing today in the
// user's timezone, or nil when there is none.
func (e Env) currentWeek() (*store.Week, error) {
	u, err := e.User()
	if err != nil {
		return nil, err
	}
	w, err := e.Store.ActiveWeekOn(e.UserID, e.Today(u).Format(store.DateLayout))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return w, err
}

// FormatWeeklyPlan renders a plan week the way it is pushed to the user.
func FormatWeeklyPlan(w *store.Week) string {
	return fmt.Sprintf("Plan de esta semana (%s - %s):\n\n%s", w.Start, w.End, w.Content)
}

func handleSendPlanNow(_ context.Context, env Env, _ map[string]any) (string, error) {
	w, err := env.currentWeek()
	if err != nil {
		return "", err
	}
	if w == nil {
		return "No hay planificación activa para esta semana. ¿Quieres que genere una nueva?", nil
	}
	return FormatWeeklyPlan(w), nil
}

func handleCurrentPlanWeek(_ context.Context, env Env, _ map[string]any) (string, error) {
	w, err := env.currentWeek()
	if err != nil {
		return "", err
	}
	if w == nil {
		return "No hay plan definido para esta semana.", nil
	}
	return fmt.Sprintf("Semana del %s al %s:\n%s", w.Start, w.End, w.Content), nil
}

func handlePlanningStatus(_ context.Context, env Env, _ map[string]any) (string, error) {
	w, err := env.currentWeek()
	if err != nil {
		return "", err
	}
	if w == nil {
		return "No hay planificación activa.", nil
	}
	return fmt.Sprintf("Vas en la semana %d de %d. Faltan %d semanas.", w.Number, w.TotalWeeks, w.TotalWeeks-w.Number), nil
}

func handlePauseDelivery(ctx context.Context, env Env, _ map[string]any) (string, error) {
	if err := env.Store.SetDeliveryPaused(env.UserID, true); err != nil {
		return "", err
	}
	env.reschedule(ctx)
	return "He pausado el envío del plan. Cuando quieras reanudarlo, dímelo.", nil
}

func handleResumeDelivery(ctx context.Context, env Env, _ map[string]any) (string, error) {
	if err := env.Store.SetDeliveryPaused(env.UserID, false); err != nil {
		return "", err
	}
	env.reschedule(ctx)
	return "Reanudado. Te volveré a enviar el plan en el día y hora configurados.", nil
}
