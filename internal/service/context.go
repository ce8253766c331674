package service

import "context"

type reporterKey struct{}

// WithReporter кладет id автора инцидента в контекст запроса
func WithReporter(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, reporterKey{}, userID)
}

// ReporterFromContext возвращает id автора, если он задан
func ReporterFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(reporterKey{}).(int64)
	return id, ok && id > 0
}
