package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/nugget/coach-ai-agent/internal/store"
	"github.com/nugget/coach-ai-agent/internal/strava"
)

const stravaNotConfigured = "Strava no está configurado. Avisa al administrador."

func (r *Registry) registerStravaTools() {
	r.Register(&Tool{
		Name:        "get_strava_connect_url",
		Description: "Obtener el enlace para que el usuario conecte su Strava.",
		Parameters:  objectSchema(nil),
		Handler:     handleStravaConnectURL,
	})

	r.Register(&Tool{
		Name:        "disconnect_strava",
		Description: "Desconectar la cuenta de Strava del usuario.",
		Parameters:  objectSchema(nil),
		Handler:     handleDisconnectStrava,
	})

	r.Register(&Tool{
		Name:        "sync_strava_activities",
		Description: "Sincronizar actividades recientes de Strava.",
		Parameters:  objectSchema(nil),
		Handler:     handleSyncStrava,
	})

	r.Register(&Tool{
		Name:        "update_activity_notes",
		Description: "Guardar notas o corrección del usuario sobre una actividad.",
		Parameters: objectSchema(map[string]any{
			"activity_id": map[string]any{"type": "string"},
			"user_notes":  map[string]any{"type": "string"},
		}, "activity_id", "user_notes"),
		Handler: handleUpdateActivityNotes,
	})
}

func handleStravaConnectURL(_ context.Context, env Env, _ map[string]any) (string, error) {
	if env.Strava == nil {
		return stravaNotConfigured, nil
	}
	url, err := env.Strava.AuthorizeURL(env.UserID)
	if errors.Is(err, strava.ErrNotConfigured) {
		return stravaNotConfigured, nil
	}
	if err != nil {
		return "", err
	}
	return "Conecta tu Strava abriendo este enlace:\n" + url, nil
}

func handleDisconnectStrava(_ context.Context, env Env, _ map[string]any) (string, error) {
	if err := env.Store.DeleteStravaToken(env.UserID); err != nil {
		return "", err
	}
	return "Strava desconectado.", nil
}

func handleSyncStrava(ctx context.Context, env Env, _ map[string]any) (string, error) {
	if env.Strava == nil {
		return stravaNotConfigured, nil
	}
	added, err := env.Strava.Sync(ctx, env.UserID)
	switch {
	case errors.Is(err, strava.ErrNotConnected):
		return "No tienes Strava conectado. Pídeme el enlace para conectar.", nil
	case errors.Is(err, strava.ErrNotConfigured):
		return stravaNotConfigured, nil
	case err != nil:
		env.Logger.Warn("strava sync failed", "user_id", env.UserID, "error", err)
		return "No pude obtener actividades de Strava. ¿Puedes intentar de nuevo?", nil
	}
	if len(added) == 0 {
		return "No había actividades nuevas. Ya tenía todo sincronizado.", nil
	}
	return fmt.Sprintf("Listo. Añadí %d actividad(es) nueva(s). Ya las tengo en cuenta.", len(added)), nil
}

func handleUpdateActivityNotes(_ context.Context, env Env, args map[string]any) (string, error) {
	ref, err := requiredString(args, "activity_id")
	if err != nil {
		return "", err
	}
	notes, err := requiredString(args, "user_notes")
	if err != nil {
		return "", err
	}
	err = env.Store.UpdateActivityNotes(env.UserID, ref, notes)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Sprintf("No encontré la actividad %s. ¿Puedes decirme el nombre o la fecha?", ref), nil
	}
	if err != nil {
		return "", err
	}
	return "Anotado. Lo tendré en cuenta.", nil
}
