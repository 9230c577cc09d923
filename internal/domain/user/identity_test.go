package user

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const secret = "ghp_supersecret"

func TestCredentialNeverFormatsToken(t *testing.T) {
	c := NewCredential(secret)
	for _, s := range []string{
		c.String(),
		fmt.Sprintf("%v", c),
		fmt.Sprintf("%+v", c),
		fmt.Sprintf("%#v", c),
		fmt.Sprintf("%s", struct{ C Credential }{c}),
	} {
		if strings.Contains(s, secret) {
			t.Fatalf("token leaked in %q", s)
		}
	}

	data, err := json.Marshal(struct{ Token Credential }{c})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), secret) {
		t.Fatalf("token leaked in JSON %s", data)
	}
}

func TestCredentialNeverLogsToken(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewJSONHandler(&buf, nil))
	l.Info("open session", "credential", NewCredential(secret))
	if strings.Contains(buf.String(), secret) {
		t.Fatalf("token leaked in log %q", buf.String())
	}
	if !strings.Contains(buf.String(), "<redacted>") {
		t.Fatalf("expected redacted marker, got %q", buf.String())
	}
}

func TestCredentialReveal(t *testing.T) {
	c := NewCredential(secret)
	if c.Reveal() != secret {
		t.Fatal("Reveal should return the raw token")
	}
	if c.Empty() {
		t.Fatal("expected non-empty credential")
	}
	if !NewCredential("").Empty() {
		t.Fatal("expected empty credential")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Fatal("expected no identity in empty context")
	}
	if !CredentialFromContext(ctx).Empty() {
		t.Fatal("expected empty credential in empty context")
	}

	ctx = WithIdentity(ctx, Identity{ID: "u1", DisplayName: "Ana"}, NewCredential(secret))
	id, ok := FromContext(ctx)
	if !ok || id.ID != "u1" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if CredentialFromContext(ctx).Reveal() != secret {
		t.Fatal("expected credential round trip")
	}
}
