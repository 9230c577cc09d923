package remote_test

import (
	"context"
	"strings"
	"testing"

	"github.com/Strob0t/DocSync/internal/domain/repo"
	"github.com/Strob0t/DocSync/internal/port/remote"
)

type testProvider struct {
	name string
}

func (p *testProvider) Name() string { return p.name }
func (p *testProvider) Open(_ context.Context, _ repo.Ref, _ string) (remote.Client, error) {
	return nil, nil
}

func TestRegisterAndNew(t *testing.T) {
	remote.Register("test-remote", func(_ map[string]string) (remote.Provider, error) {
		return &testProvider{name: "test-remote"}, nil
	})

	p, err := remote.New("test-remote", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "test-remote" {
		t.Fatalf("expected test-remote, got %s", p.Name())
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	remote.Register("test-dup", func(_ map[string]string) (remote.Provider, error) {
		return &testProvider{name: "test-dup"}, nil
	})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	remote.Register("test-dup", func(_ map[string]string) (remote.Provider, error) { return nil, nil })
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := remote.New("nonexistent", nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "nonexistent") {
		t.Fatalf("expected provider name in error, got %v", err)
	}
}

func TestAvailable(t *testing.T) {
	remote.Register("test-avail", func(_ map[string]string) (remote.Provider, error) {
		return &testProvider{name: "test-avail"}, nil
	})
	found := false
	for _, n := range remote.Available() {
		if n == "test-avail" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected test-avail in available providers")
	}
}
