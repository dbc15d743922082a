// Package tenant carries the calling agency through a request context.
package tenant

import "context"

type ctxKey struct{}

// WithAgency 将调用方所属 agency 写入 context
func WithAgency(ctx context.Context, agencyID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, agencyID)
}

// FromContext 返回调用方 agency；未设置时 ok 为 false（内部调用，不做租户校验）
func FromContext(ctx context.Context) (agencyID string, ok bool) {
	agencyID, ok = ctx.Value(ctxKey{}).(string)
	return agencyID, ok && agencyID != ""
}
