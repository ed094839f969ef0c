package logging

import "context"

type ctxKey struct{}

// CorrelationIDKey is the field name under which loggers emit the request
// correlation id.
const CorrelationIDKey = "correlation_id"

// WithCorrelationID returns ctx carrying id. Every Logger call made with the
// returned context includes it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func withContextArgs(ctx context.Context, args []any) []any {
	id := CorrelationID(ctx)
	if id == "" {
		return args
	}
	return append(args[:len(args):len(args)], CorrelationIDKey, id)
}
