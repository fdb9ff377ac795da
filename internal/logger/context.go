package logger

import "context"

type contextKey string

const TraceIDKey contextKey = "trace_id"
const CompletionIDKey contextKey = "completion_id"

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok {
		return id
	}
	return ""
}

func WithCompletionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CompletionIDKey, id)
}

func GetCompletionID(ctx context.Context) string {
	if id, ok := ctx.Value(CompletionIDKey).(string); ok {
		return id
	}
	return ""
}
