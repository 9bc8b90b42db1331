// Package ctxkeys holds request-scoped context keys shared by the HTTP
// middleware and handlers.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	userIDKey    contextKey = "user_id"
	authMethod   contextKey = "auth_method"
)

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	return stringValue(ctx, requestIDKey)
}

// WithUserID 设置已认证用户
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID 获取已认证用户
func UserID(ctx context.Context) (string, bool) {
	return stringValue(ctx, userIDKey)
}

// WithAuthMethod records how the caller authenticated ("jwt", "api_key").
func WithAuthMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, authMethod, method)
}

// AuthMethod 获取认证方式
func AuthMethod(ctx context.Context) (string, bool) {
	return stringValue(ctx, authMethod)
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
