package requesttrace

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

const (
	ctxAuditInfo contextKey = "WIMSLTI_REQUEST_TRACE"
)

// ActorKind represents who initiated a request.
type ActorKind string

const (
	// ActorKindLaunch is an LMS user whose launch passed OAuth verification.
	ActorKindLaunch    ActorKind = "lti_launch"
	ActorKindAnonymous ActorKind = "anonymous"
	// ActorKindSystem covers administrator CLI operations.
	ActorKindSystem ActorKind = "system"
)

// AuditInfo captures who is behind a request, for logs of actions with remote side effects.
// ConsumerKey and UserID are only set for launches.
type AuditInfo struct {
	ActorKind   ActorKind
	ConsumerKey string
	UserID      string
	RequestID   string
}

// IntoContext stores the AuditInfo in the provided context.
func IntoContext(ctx context.Context, audit AuditInfo) context.Context {
	return context.WithValue(ctx, ctxAuditInfo, audit)
}

// FromContext extracts the AuditInfo from context, returning false when not present.
func FromContext(ctx context.Context) (AuditInfo, bool) {
	if ctx == nil {
		return AuditInfo{}, false
	}
	audit, ok := ctx.Value(ctxAuditInfo).(AuditInfo)
	return audit, ok
}

// FromContextOrAnonymous returns the AuditInfo stored on the context, or an anonymous record when absent.
func FromContextOrAnonymous(ctx context.Context) AuditInfo {
	if audit, ok := FromContext(ctx); ok {
		return audit
	}
	return Anonymous("")
}

// Launch builds the AuditInfo of a verified launch.
func Launch(consumerKey, userID, requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindLaunch, ConsumerKey: consumerKey, UserID: userID, RequestID: requestID}
}

// Anonymous builds an AuditInfo for requests not yet verified.
func Anonymous(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System builds an AuditInfo for administrator operations.
func System(requestID string) AuditInfo {
	return AuditInfo{ActorKind: ActorKindSystem, RequestID: requestID}
}

// Fields renders the audit info as log fields.
func (a AuditInfo) Fields() []zap.Field {
	fields := []zap.Field{zap.String("actor_kind", string(a.ActorKind))}
	if a.ConsumerKey != "" {
		fields = append(fields, zap.String("actor_consumer_key", a.ConsumerKey))
	}
	if a.UserID != "" {
		fields = append(fields, zap.String("actor_user_id", a.UserID))
	}
	return fields
}
