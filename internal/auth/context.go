package auth

import (
	"context"
	"errors"
)

var ErrNoIdentity = errors.New("no identity in context")

// Identity is the authenticated caller.
type Identity struct {
	AccountID int64
	Email     string
	Role      string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	if !ok || id.AccountID <= 0 || id.Role == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func Role(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	return id.Role, nil
}
