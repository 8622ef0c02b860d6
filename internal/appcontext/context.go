package appcontext

import (
	"context"
)

type contextKey string

var (
	requestIdKey          contextKey = "requestId"
	processInstanceKeyKey contextKey = "processInstanceKey"
)

// WithRequestId stores the id the REST layer assigned to the incoming request.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey, id)
}

func RequestId(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIdKey).(string)
	return id, ok && id != ""
}

// WithProcessInstanceKey marks the context with the process instance the request operates on.
func WithProcessInstanceKey(ctx context.Context, key int64) context.Context {
	return context.WithValue(ctx, processInstanceKeyKey, key)
}

func ProcessInstanceKey(ctx context.Context) (int64, bool) {
	key, ok := ctx.Value(processInstanceKeyKey).(int64)
	return key, ok
}
