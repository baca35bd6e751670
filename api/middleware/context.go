package middleware

import "context"

type contextKey string

const (
	ctxOperator    contextKey = "operator"
	ctxRequestID   contextKey = "request_id"
	ctxRequestInfo contextKey = "request_info"
)

// requestInfo lets inner middleware report back to Logging, which only sees
// the outer request context.
type requestInfo struct {
	operator string
}

// OperatorFromContext returns the operator name recorded by AdminToken.
func OperatorFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxOperator)
}

// WithOperator injects the operator name into the context.
func WithOperator(ctx context.Context, operator string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if info, ok := ctx.Value(ctxRequestInfo).(*requestInfo); ok {
		info.operator = operator
	}
	return context.WithValue(ctx, ctxOperator, operator)
}

// RequestIDFromContext returns the id assigned by RequestID.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, ctxRequestID)
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestID, id)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
