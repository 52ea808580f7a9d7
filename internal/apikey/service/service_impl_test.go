package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	apikeydomain "github.com/smallbiznis/emissor/internal/apikey/domain"
	"github.com/smallbiznis/emissor/internal/apikey/repository"
	"github.com/smallbiznis/emissor/internal/clock"
	"github.com/smallbiznis/emissor/internal/orgcontext"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (apikeydomain.Service, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&apikeydomain.APIKey{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake.NewNode: %v", err)
	}
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
	return svc, clk, node
}

func orgContext(node *snowflake.Node) (context.Context, snowflake.ID) {
	orgID := node.Generate()
	return orgcontext.WithOrgID(context.Background(), orgID), orgID
}

func TestCreateAndResolve(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx, _ := orgContext(node)

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "backend", Scopes: []string{"emission:write"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(secret.KeyID, "key_") {
		t.Errorf("unexpected key id %q", secret.KeyID)
	}
	if !strings.HasPrefix(secret.APIKey, "ek_live_key_") {
		t.Errorf("unexpected api key prefix %q", secret.APIKey)
	}

	resolved, err := svc.Resolve(context.Background(), secret.APIKey)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.KeyID != secret.KeyID {
		t.Errorf("expected key id %q, got %q", secret.KeyID, resolved.KeyID)
	}
	if !resolved.HasScope(apikeydomain.ScopeEmissionWrite) {
		t.Error("expected emission:write scope")
	}
	if resolved.HasScope(apikeydomain.ScopeDocumentsRead) {
		t.Error("did not request documents:read")
	}

	// A Bearer prefix on the raw header value is tolerated.
	if _, err := svc.Resolve(context.Background(), "Bearer "+secret.APIKey); err != nil {
		t.Fatalf("Resolve with Bearer prefix: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx, _ := orgContext(node)

	if _, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "   "}); !errors.Is(err, apikeydomain.ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if _, err := svc.Create(context.Background(), apikeydomain.CreateRequest{Name: "backend"}); !errors.Is(err, apikeydomain.ErrInvalidOrganization) {
		t.Errorf("expected ErrInvalidOrganization, got %v", err)
	}
}

func TestCreateScopeDefaultsAndNormalization(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx, _ := orgContext(node)

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "default-scopes"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	key, err := svc.Resolve(context.Background(), secret.APIKey)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !key.HasScope(apikeydomain.ScopeEmissionWrite) || !key.HasScope(apikeydomain.ScopeDocumentsRead) {
		t.Errorf("expected both default scopes, got %v", key.Scopes)
	}

	secret, err = svc.Create(ctx, apikeydomain.CreateRequest{
		Name:   "messy-scopes",
		Scopes: []string{" Emission:Write ", "emission:write", "", "DOCUMENTS:READ"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	key, err = svc.Resolve(context.Background(), secret.APIKey)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(key.Scopes) != 2 {
		t.Errorf("expected deduplicated lowercase scopes, got %v", key.Scopes)
	}
}

func TestResolveRejectsBadKeys(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx, _ := orgContext(node)

	if _, err := svc.Resolve(context.Background(), "   "); !errors.Is(err, apikeydomain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for blank key, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), "ek_live_key_FAKE_deadbeef"); !errors.Is(err, apikeydomain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for unknown key, got %v", err)
	}

	secret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "to-revoke"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Revoke(ctx, secret.KeyID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Resolve(context.Background(), secret.APIKey); !errors.Is(err, apikeydomain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for revoked key, got %v", err)
	}
}

func TestRotateKeepsOldKeyDuringGrace(t *testing.T) {
	svc, clk, node := newTestService(t)
	ctx, _ := orgContext(node)

	oldSecret, err := svc.Create(ctx, apikeydomain.CreateRequest{Name: "rotating"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	newSecret, err := svc.Rotate(ctx, oldSecret.KeyID)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newSecret.KeyID == oldSecret.KeyID {
		t.Fatal("rotation must mint a new key id")
	}

	rotated, err := svc.Resolve(context.Background(), newSecret.APIKey)
	if err != nil {
		t.Fatalf("Resolve new key: %v", err)
	}
	if rotated.RotatedFromKeyID == nil || *rotated.RotatedFromKeyID != oldSecret.KeyID {
		t.Errorf("expected rotation lineage to %q, got %v", oldSecret.KeyID, rotated.RotatedFromKeyID)
	}

	// Old key still resolves inside the grace period.
	if _, err := svc.Resolve(context.Background(), oldSecret.APIKey); err != nil {
		t.Fatalf("Resolve old key during grace: %v", err)
	}

	clk.Advance(25 * time.Hour)
	if _, err := svc.Resolve(context.Background(), oldSecret.APIKey); !errors.Is(err, apikeydomain.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey after grace, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), newSecret.APIKey); err != nil {
		t.Fatalf("Resolve new key after grace: %v", err)
	}
}

func TestRotateUnknownKey(t *testing.T) {
	svc, _, node := newTestService(t)
	ctx, _ := orgContext(node)

	if _, err := svc.Rotate(ctx, "key_NOPE"); !errors.Is(err, apikeydomain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Rotate(ctx, "  "); !errors.Is(err, apikeydomain.ErrInvalidKeyID) {
		t.Errorf("expected ErrInvalidKeyID, got %v", err)
	}
}

func TestRevokeScopedByOrg(t *testing.T) {
	svc, _, node := newTestService(t)
	ctxA, _ := orgContext(node)
	ctxB, _ := orgContext(node)

	secret, err := svc.Create(ctxA, apikeydomain.CreateRequest{Name: "org-a"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.Revoke(ctxB, secret.KeyID); !errors.Is(err, apikeydomain.ErrNotFound) {
		t.Errorf("expected ErrNotFound across tenants, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), secret.APIKey); err != nil {
		t.Fatalf("key must survive a foreign revoke: %v", err)
	}
}

func TestListReturnsTenantKeys(t *testing.T) {
	svc, _, node := newTestService(t)
	ctxA, _ := orgContext(node)
	ctxB, _ := orgContext(node)

	if _, err := svc.Create(ctxA, apikeydomain.CreateRequest{Name: "a-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctxA, apikeydomain.CreateRequest{Name: "a-2"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctxB, apikeydomain.CreateRequest{Name: "b-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	keys, err := svc.List(ctxA)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys for the tenant, got %d", len(keys))
	}
	for _, key := range keys {
		if !strings.HasPrefix(key.Name, "a-") {
			t.Errorf("unexpected key %q in tenant listing", key.Name)
		}
	}
}
