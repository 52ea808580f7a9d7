package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/emissor/internal/clock"
	"github.com/smallbiznis/emissor/internal/config"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	docrepo "github.com/smallbiznis/emissor/internal/document/repository"
	emissiondomain "github.com/smallbiznis/emissor/internal/emission/domain"
	configdomain "github.com/smallbiznis/emissor/internal/fiscalconfig/domain"
	cfgrepo "github.com/smallbiznis/emissor/internal/fiscalconfig/repository"
	fcservice "github.com/smallbiznis/emissor/internal/fiscalconfig/service"
	eventdomain "github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	eventrepo "github.com/smallbiznis/emissor/internal/fiscalevent/repository"
	eventservice "github.com/smallbiznis/emissor/internal/fiscalevent/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubGateway struct {
	resp *emissiondomain.GatewayResponse
	err  error

	calls    int
	lastKind documentdomain.DocumentKind
	lastRef  string
	lastCred string
	lastURL  string
}

func (g *stubGateway) Submit(ctx context.Context, kind documentdomain.DocumentKind, reference string, payload any, credential, endpoint string) (*emissiondomain.GatewayResponse, error) {
	g.calls++
	g.lastKind = kind
	g.lastRef = reference
	g.lastCred = credential
	g.lastURL = endpoint
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func gatewayResponse(t *testing.T, body string) *emissiondomain.GatewayResponse {
	t.Helper()
	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		t.Fatalf("invalid stub body: %v", err)
	}
	return &emissiondomain.GatewayResponse{Raw: []byte(body), Fields: fields}
}

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	clk     *clock.FakeClock
	gateway *stubGateway
	svc     emissiondomain.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&documentdomain.FiscalDocument{},
		&documentdomain.DocumentItem{},
		&configdomain.FiscalConfig{},
		&eventdomain.FiscalEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake.NewNode: %v", err)
	}

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	gateway := &stubGateway{}

	resolver := fcservice.NewResolver(fcservice.Params{
		Log:        log,
		Cfg:        config.Config{GatewayMasterToken: "master-token"},
		GatewayCfg: config.StaticGatewayConfigHolder(config.DefaultGatewayConfig()),
	})
	recorder := eventservice.NewService(eventservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  eventrepo.Provide(),
	})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		DocRepo:  docrepo.Provide(),
		CfgRepo:  cfgrepo.Provide(),
		Resolver: resolver,
		Gateway:  gateway,
		Recorder: recorder,
	})

	return &testEnv{db: db, node: node, clk: clk, gateway: gateway, svc: svc}
}

func (e *testEnv) seedConfig(t *testing.T, orgID snowflake.ID, mutate ...func(*configdomain.FiscalConfig)) *configdomain.FiscalConfig {
	t.Helper()
	expires := e.clk.Now().Add(90 * 24 * time.Hour)
	cfg := &configdomain.FiscalConfig{
		ID:                   e.node.Generate(),
		OrgID:                orgID,
		TaxID:                "12345678000195",
		State:                "SP",
		GoodsEnabled:         true,
		ServicesEnabled:      true,
		Environment:          configdomain.EnvironmentSandbox,
		SandboxToken:         "tok_sandbox",
		CertificateExpiresAt: &expires,
		ServiceISSRate:       0.05,
		ServiceListItem:      "07.01",
		CreatedAt:            e.clk.Now(),
		UpdatedAt:            e.clk.Now(),
	}
	for _, m := range mutate {
		m(cfg)
	}
	if err := e.db.Create(cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return cfg
}

func (e *testEnv) seedDocument(t *testing.T, orgID snowflake.ID, kind documentdomain.DocumentKind, mutate ...func(*documentdomain.FiscalDocument)) *documentdomain.FiscalDocument {
	t.Helper()
	doc := &documentdomain.FiscalDocument{
		ID:             e.node.Generate(),
		OrgID:          orgID,
		Kind:           kind,
		Status:         documentdomain.StatusDraft,
		RecipientName:  "Fulano de Tal",
		RecipientTaxID: "12345678909",
		Street:         "Rua das Flores",
		AddressNumber:  "100",
		District:       "Centro",
		Municipality:   "Sao Paulo",
		State:          "SP",
		PostalCode:     "01310100",
		TotalAmount:    15990,
		CreatedAt:      e.clk.Now(),
		UpdatedAt:      e.clk.Now(),
	}
	for _, m := range mutate {
		m(doc)
	}
	if err := e.db.Create(doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	item := &documentdomain.DocumentItem{
		ID:          e.node.Generate(),
		OrgID:       orgID,
		DocumentID:  doc.ID,
		Sequence:    1,
		Description: "Widget",
		Quantity:    2,
		UnitAmount:  7995,
		Amount:      15990,
		CreatedAt:   e.clk.Now(),
	}
	if err := e.db.Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return doc
}

func (e *testEnv) reloadDocument(t *testing.T, orgID, id snowflake.ID) *documentdomain.FiscalDocument {
	t.Helper()
	var doc documentdomain.FiscalDocument
	if err := e.db.Where("id = ? AND org_id = ?", id, orgID).First(&doc).Error; err != nil {
		t.Fatalf("reload document: %v", err)
	}
	return &doc
}

func (e *testEnv) reloadConfig(t *testing.T, orgID snowflake.ID) *configdomain.FiscalConfig {
	t.Helper()
	var cfg configdomain.FiscalConfig
	if err := e.db.Where("org_id = ?", orgID).First(&cfg).Error; err != nil {
		t.Fatalf("reload config: %v", err)
	}
	return &cfg
}

func (e *testEnv) listEvents(t *testing.T, orgID, documentID snowflake.ID) []eventdomain.FiscalEvent {
	t.Helper()
	var events []eventdomain.FiscalEvent
	if err := e.db.Where("org_id = ? AND document_id = ?", orgID, documentID).Order("id asc").Find(&events).Error; err != nil {
		t.Fatalf("list events: %v", err)
	}
	return events
}

func TestEmitAuthorized(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)
	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)

	env.gateway.resp = gatewayResponse(t, `{
		"status": "autorizado",
		"chave_nfe": "35260812345678000195550010000000421000000421",
		"protocolo": "135260000000001",
		"numero": "42",
		"serie": "1",
		"caminho_xml_nota_fiscal": "/notas/42.xml",
		"caminho_danfe": "/danfes/42.pdf",
		"url": "https://gateway.example/notas/42",
		"mensagem_sefaz": "Autorizado o uso da NF-e"
	}`)

	result, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if result.GatewayStatus != emissiondomain.GatewayStatusAuthorized {
		t.Errorf("expected gateway status autorizado, got %q", result.GatewayStatus)
	}
	if result.Document.Status != documentdomain.StatusAuthorized {
		t.Errorf("expected authorized document, got %q", result.Document.Status)
	}

	if env.gateway.calls != 1 {
		t.Fatalf("expected one gateway call, got %d", env.gateway.calls)
	}
	if env.gateway.lastCred != "tok_sandbox" {
		t.Errorf("expected sandbox token credential, got %q", env.gateway.lastCred)
	}
	if env.gateway.lastURL != config.DefaultGatewayConfig().SandboxURL {
		t.Errorf("expected sandbox endpoint, got %q", env.gateway.lastURL)
	}

	stored := env.reloadDocument(t, orgID, doc.ID)
	if stored.Status != documentdomain.StatusAuthorized {
		t.Errorf("expected authorized, got %q", stored.Status)
	}
	if stored.Reference != env.gateway.lastRef {
		t.Errorf("expected persisted reference %q, got %q", env.gateway.lastRef, stored.Reference)
	}
	if stored.AccessKey != "35260812345678000195550010000000421000000421" {
		t.Errorf("access key not persisted: %q", stored.AccessKey)
	}
	if stored.Protocol != "135260000000001" {
		t.Errorf("protocol not persisted: %q", stored.Protocol)
	}
	if stored.Number != "42" || stored.Series != "1" {
		t.Errorf("number/series not persisted: %q/%q", stored.Number, stored.Series)
	}
	if stored.XMLPath != "/notas/42.xml" || stored.DanfePath != "/danfes/42.pdf" {
		t.Errorf("artifact paths not persisted: %q/%q", stored.XMLPath, stored.DanfePath)
	}
	if stored.DocumentURL != "https://gateway.example/notas/42" {
		t.Errorf("document url not persisted: %q", stored.DocumentURL)
	}
	if stored.GatewayMessage != "Autorizado o uso da NF-e" {
		t.Errorf("gateway message not persisted: %q", stored.GatewayMessage)
	}
	if stored.IssuedAt == nil {
		t.Error("expected issued_at to be set on authorization")
	}

	if got := env.reloadConfig(t, orgID).LastGoodsNumber; got != 42 {
		t.Errorf("expected last goods number 42, got %d", got)
	}

	events := env.listEvents(t, orgID, doc.ID)
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	if events[0].Kind != eventdomain.KindEmission || events[0].Status != "autorizado" {
		t.Errorf("unexpected event %q/%q", events[0].Kind, events[0].Status)
	}
	if len(events[0].Payload) == 0 {
		t.Error("expected raw gateway body in event payload")
	}
}

func TestEmitRejected(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)
	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)

	env.gateway.resp = gatewayResponse(t, `{
		"status": "erro_autorizacao",
		"mensagem_sefaz": "Rejeicao: CNPJ do destinatario invalido"
	}`)

	result, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if result.Document.Status != documentdomain.StatusRejected {
		t.Errorf("expected rejected, got %q", result.Document.Status)
	}
	if result.Document.IssuedAt != nil {
		t.Error("rejected document must not carry issued_at")
	}
	if got := env.reloadConfig(t, orgID).LastGoodsNumber; got != 0 {
		t.Errorf("rejection must not advance the counter, got %d", got)
	}
}

func TestEmitDeniedByKind(t *testing.T) {
	tests := []struct {
		name string
		kind documentdomain.DocumentKind
		want documentdomain.DocumentStatus
	}{
		{name: "goods denied is rejected", kind: documentdomain.KindGoods, want: documentdomain.StatusRejected},
		{name: "service denied stays processing", kind: documentdomain.KindService, want: documentdomain.StatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			orgID := env.node.Generate()
			env.seedConfig(t, orgID)
			doc := env.seedDocument(t, orgID, tt.kind)

			env.gateway.resp = gatewayResponse(t, `{"status": "denegado"}`)

			result, err := env.svc.Emit(context.Background(), orgID, doc.ID, tt.kind)
			if err != nil {
				t.Fatalf("Emit: %v", err)
			}
			if result.Document.Status != tt.want {
				t.Errorf("expected %q, got %q", tt.want, result.Document.Status)
			}
		})
	}
}

func TestEmitUnknownStatusStaysProcessing(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)
	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)

	env.gateway.resp = gatewayResponse(t, `{"status": "processando_autorizacao"}`)

	result, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods)
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if result.Document.Status != documentdomain.StatusProcessing {
		t.Errorf("unknown gateway status must leave processing, got %q", result.Document.Status)
	}
	if result.Document.GatewayStatus != "processando_autorizacao" {
		t.Errorf("gateway status not persisted verbatim: %q", result.Document.GatewayStatus)
	}
}

func TestEmitGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)
	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)

	env.gateway.err = &documentdomain.GatewayError{Message: "gateway unreachable: connection refused"}

	_, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods)
	var gwErr *documentdomain.GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}

	stored := env.reloadDocument(t, orgID, doc.ID)
	if stored.Status != documentdomain.StatusError {
		t.Errorf("expected terminal error status, got %q", stored.Status)
	}
	if stored.GatewayMessage == "" {
		t.Error("expected failure message persisted on the document")
	}

	events := env.listEvents(t, orgID, doc.ID)
	if len(events) != 1 {
		t.Fatalf("expected one audit event, got %d", len(events))
	}
	if events[0].Kind != eventdomain.KindError {
		t.Errorf("expected error event, got %q", events[0].Kind)
	}
	if len(events[0].Payload) == 0 {
		t.Error("expected synthetic payload for the error event")
	}
}

func TestEmitPreconditionFailures(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)

	t.Run("document not found", func(t *testing.T) {
		_, err := env.svc.Emit(context.Background(), orgID, env.node.Generate(), documentdomain.KindGoods)
		var nfErr *documentdomain.NotFoundError
		if !errors.As(err, &nfErr) {
			t.Fatalf("expected NotFoundError, got %T: %v", err, err)
		}
	})

	t.Run("kind mismatch", func(t *testing.T) {
		doc := env.seedDocument(t, orgID, documentdomain.KindGoods)
		_, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindService)
		var nfErr *documentdomain.NotFoundError
		if !errors.As(err, &nfErr) {
			t.Fatalf("expected NotFoundError, got %T: %v", err, err)
		}
	})

	t.Run("missing configuration", func(t *testing.T) {
		otherOrg := env.node.Generate()
		doc := env.seedDocument(t, otherOrg, documentdomain.KindGoods)
		_, err := env.svc.Emit(context.Background(), otherOrg, doc.ID, documentdomain.KindGoods)
		var nfErr *documentdomain.NotFoundError
		if !errors.As(err, &nfErr) {
			t.Fatalf("expected NotFoundError, got %T: %v", err, err)
		}
	})

	if env.gateway.calls != 0 {
		t.Errorf("precondition failures must not reach the gateway, got %d calls", env.gateway.calls)
	}
}

func TestEmitExpiredCertificate(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID, func(cfg *configdomain.FiscalConfig) {
		expired := env.clk.Now().Add(-24 * time.Hour)
		cfg.CertificateExpiresAt = &expired
	})
	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)

	_, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods)
	var valErr *documentdomain.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if env.gateway.calls != 0 {
		t.Errorf("expired certificate must not reach the gateway, got %d calls", env.gateway.calls)
	}

	stored := env.reloadDocument(t, orgID, doc.ID)
	if stored.Status != documentdomain.StatusDraft {
		t.Errorf("failed preconditions must leave the draft untouched, got %q", stored.Status)
	}
}

func TestEmitNonDraftLosesRace(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)
	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)

	env.gateway.resp = gatewayResponse(t, `{"status": "autorizado", "numero": "7"}`)
	if _, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods); err != nil {
		t.Fatalf("first Emit: %v", err)
	}

	_, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods)
	var valErr *documentdomain.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("expected ValidationError on second attempt, got %T: %v", err, err)
	}
	if env.gateway.calls != 1 {
		t.Errorf("losing attempt must not reach the gateway, got %d calls", env.gateway.calls)
	}
}

func TestEmitCounterIsHighWaterMark(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID, func(cfg *configdomain.FiscalConfig) {
		cfg.LastGoodsNumber = 100
	})

	doc := env.seedDocument(t, orgID, documentdomain.KindGoods)
	env.gateway.resp = gatewayResponse(t, `{"status": "autorizado", "numero": "42"}`)
	if _, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := env.reloadConfig(t, orgID).LastGoodsNumber; got != 100 {
		t.Errorf("counter must never decrease, got %d", got)
	}

	doc = env.seedDocument(t, orgID, documentdomain.KindGoods)
	env.gateway.resp = gatewayResponse(t, `{"status": "autorizado", "numero": "150"}`)
	if _, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindGoods); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := env.reloadConfig(t, orgID).LastGoodsNumber; got != 150 {
		t.Errorf("expected counter advanced to 150, got %d", got)
	}
}

func TestEmitServiceAdvancesServiceCounter(t *testing.T) {
	env := newTestEnv(t)
	orgID := env.node.Generate()
	env.seedConfig(t, orgID)
	doc := env.seedDocument(t, orgID, documentdomain.KindService)

	env.gateway.resp = gatewayResponse(t, `{"status": "autorizado", "numero": "9"}`)
	if _, err := env.svc.Emit(context.Background(), orgID, doc.ID, documentdomain.KindService); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if env.gateway.lastKind != documentdomain.KindService {
		t.Errorf("expected service submission, got %q", env.gateway.lastKind)
	}

	cfg := env.reloadConfig(t, orgID)
	if cfg.LastServiceNumber != 9 {
		t.Errorf("expected last service number 9, got %d", cfg.LastServiceNumber)
	}
	if cfg.LastGoodsNumber != 0 {
		t.Errorf("service emission must not touch the goods counter, got %d", cfg.LastGoodsNumber)
	}
}

func TestEmitTenantIsolation(t *testing.T) {
	env := newTestEnv(t)
	orgA := env.node.Generate()
	orgB := env.node.Generate()
	env.seedConfig(t, orgA)
	env.seedConfig(t, orgB)
	doc := env.seedDocument(t, orgA, documentdomain.KindGoods)

	_, err := env.svc.Emit(context.Background(), orgB, doc.ID, documentdomain.KindGoods)
	var nfErr *documentdomain.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError across tenants, got %T: %v", err, err)
	}
	if env.gateway.calls != 0 {
		t.Errorf("cross-tenant emit must not reach the gateway, got %d calls", env.gateway.calls)
	}
}
