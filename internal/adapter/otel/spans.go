package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "docsync"

// StartSyncSpan starts a span for one coordinator operation (push, pull,
// switch, discard).
func StartSyncSpan(ctx context.Context, op, workspaceID, channel, branch string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "sync."+op,
		trace.WithAttributes(
			attribute.String("workspace.id", workspaceID),
			attribute.String("repo", channel),
			attribute.String("branch", branch),
		),
	)
}

// StartWebhookSpan starts a span for an inbound VCS webhook.
func StartWebhookSpan(ctx context.Context, provider, eventType, repo string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "webhook."+eventType,
		trace.WithAttributes(
			attribute.String("webhook.provider", provider),
			attribute.String("repo", repo),
		),
	)
}
