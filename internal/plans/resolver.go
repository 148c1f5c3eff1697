package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver looks up the subscription tier a user is currently on.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Plan, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, userID string) (Plan, error)

func (f ResolverFunc) Resolve(ctx context.Context, userID string) (Plan, error) {
	return f(ctx, userID)
}

// Static returns a Resolver that always answers p.
func Static(p Plan) Resolver {
	return ResolverFunc(func(context.Context, string) (Plan, error) { return p, nil })
}

// SubscriptionResolver reads the subscriptions table shared with billing.
type SubscriptionResolver struct {
	pool *pgxpool.Pool
}

func NewSubscriptionResolver(pool *pgxpool.Pool) *SubscriptionResolver {
	return &SubscriptionResolver{pool: pool}
}

// Resolve returns the plan of the user's most recent active or trialing
// subscription. Users without one are on Free.
func (r *SubscriptionResolver) Resolve(ctx context.Context, userID string) (Plan, error) {
	var name string
	err := r.pool.QueryRow(ctx,
		`SELECT plan FROM subscriptions
		 WHERE user_id = $1 AND status IN ('active', 'trialing')
		 ORDER BY updated_at DESC
		 LIMIT 1`, userID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Free, nil
	}
	if err != nil {
		return Free, fmt.Errorf("resolving plan: %w", err)
	}

	if !Known(name) {
		slog.Warn("unknown plan name, using Free", "user_id", userID, "plan", name)
	}
	return Parse(name), nil
}
