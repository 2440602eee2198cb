package tools

import "context"

type contextKey string

const armedAtStartKey contextKey = "pending_delete_armed_at_start"

// WithEraseArmedAtStart records whether the erase confirmation was
// already armed when the current turn began. A confirmation armed during
// the turn itself never authorizes the erase.
func WithEraseArmedAtStart(ctx context.Context, armed bool) context.Context {
	return context.WithValue(ctx, armedAtStartKey, armed)
}

// eraseArmedAtStart reports the value recorded by WithEraseArmedAtStart.
// ok is false when the caller did not record one.
func eraseArmedAtStart(ctx context.Context) (armed, ok bool) {
	armed, ok = ctx.Value(armedAtStartKey).(bool)
	return armed, ok
}
