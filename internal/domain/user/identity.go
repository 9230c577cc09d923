// Package user defines the verified identity and the opaque remote
// credential handed to the sync engine by the upstream identity provider.
package user

import (
	"context"
	"log/slog"
)

// Identity is an upstream-verified user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// Credential is a remote-repository token. It is never persisted, and every
// formatting path (fmt, slog, JSON) redacts it. Reveal returns the raw value
// for the one place that needs it: the outbound Authorization header.
type Credential struct {
	token string
}

// NewCredential wraps a raw token.
func NewCredential(token string) Credential { return Credential{token: token} }

// Reveal returns the raw token.
func (c Credential) Reveal() string { return c.token }

// Empty reports whether no token was supplied.
func (c Credential) Empty() bool { return c.token == "" }

func (c Credential) String() string {
	if c.token == "" {
		return "<none>"
	}
	return "<redacted>"
}

// GoString keeps %#v from leaking the token.
func (c Credential) GoString() string { return "user.Credential{" + c.String() + "}" }

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value { return slog.StringValue(c.String()) }

// MarshalText implements encoding.TextMarshaler so JSON encodes the redacted form.
func (c Credential) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

type identityKey struct{}
type credentialKey struct{}

// WithIdentity stores the identity and credential in ctx.
func WithIdentity(ctx context.Context, id Identity, cred Credential) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	return context.WithValue(ctx, credentialKey{}, cred)
}

// FromContext returns the identity stored in ctx.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// CredentialFromContext returns the credential stored in ctx.
func CredentialFromContext(ctx context.Context) Credential {
	c, _ := ctx.Value(credentialKey{}).(Credential)
	return c
}
