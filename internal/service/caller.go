package service

import (
	"context"

	"fiscalhost/internal/domain"
)

type callerKey struct{}

// WithCaller guarda el caller de la request en el contexto.
func WithCaller(ctx context.Context, caller domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext devuelve el caller o uno anónimo si no hay.
func CallerFromContext(ctx context.Context) domain.Caller {
	caller, _ := ctx.Value(callerKey{}).(domain.Caller)
	return caller
}
