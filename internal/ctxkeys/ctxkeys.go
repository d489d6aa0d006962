package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	traceIDKey       contextKey = "trace_id"
	requestIDKey     contextKey = "request_id"
	userKey          contextKey = "user"
	rolesKey         contextKey = "roles"
	eventMetadataKey contextKey = "event_metadata"
)

// WithTraceID 设置 TraceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID 获取 TraceID
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(traceIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRequestID 设置请求 ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取请求 ID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithUser 设置当前操作用户（写入变更摘要）
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// User 获取当前操作用户
func User(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRoles 设置当前用户角色
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// HasRole 判断当前用户是否拥有指定角色
func HasRole(ctx context.Context, role string) bool {
	roles, _ := ctx.Value(rolesKey).([]string)
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// WithEventMetadata 挂载注册表事件元数据。值的类型由调用方约定。
func WithEventMetadata(ctx context.Context, meta any) context.Context {
	return context.WithValue(ctx, eventMetadataKey, meta)
}

// EventMetadata 获取注册表事件元数据
func EventMetadata(ctx context.Context) any {
	return ctx.Value(eventMetadataKey)
}
