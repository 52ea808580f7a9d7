package service

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
)

func TestNewReferenceFormat(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake.NewNode: %v", err)
	}
	orgID := node.Generate()
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	ref := newReference(documentdomain.KindGoods, orgID, now)
	if !strings.HasPrefix(ref, "nfe-") {
		t.Errorf("expected nfe- prefix, got %q", ref)
	}

	ref = newReference(documentdomain.KindService, orgID, now)
	if !strings.HasPrefix(ref, "nfse-") {
		t.Errorf("expected nfse- prefix, got %q", ref)
	}

	parts := strings.SplitN(ref, "-", 3)
	if len(parts) != 3 {
		t.Fatalf("expected 3 dash-separated segments, got %q", ref)
	}
	wantPrefix := orgID.String()
	if len(wantPrefix) > 8 {
		wantPrefix = wantPrefix[:8]
	}
	if parts[1] != wantPrefix {
		t.Errorf("expected tenant prefix %q, got %q", wantPrefix, parts[1])
	}
}

func TestNewReferenceUnique(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake.NewNode: %v", err)
	}
	orgID := node.Generate()
	now := time.Now()

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		ref := newReference(documentdomain.KindGoods, orgID, now)
		if _, dup := seen[ref]; dup {
			t.Fatalf("duplicate reference after %d draws: %q", i, ref)
		}
		seen[ref] = struct{}{}
	}
}
