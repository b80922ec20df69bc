// Package contexthelpers carries request scoped values through context.Context.
package contexthelpers

import (
	"context"
)

type contextKey string

const athleteIDContextKey = contextKey("athleteID")

// WithAthleteID scopes ctx to one athlete. Repositories read the id from the context.
func WithAthleteID(ctx context.Context, athleteID string) context.Context {
	return context.WithValue(ctx, athleteIDContextKey, athleteID)
}

// AthleteID returns the athlete the context is scoped to or the empty string.
func AthleteID(ctx context.Context) string {
	athleteID, ok := ctx.Value(athleteIDContextKey).(string)
	if !ok {
		return ""
	}
	return athleteID
}
