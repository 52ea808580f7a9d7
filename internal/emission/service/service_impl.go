package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/clock"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	emissiondomain "github.com/smallbiznis/emissor/internal/emission/domain"
	"github.com/smallbiznis/emissor/internal/emission/payload"
	configdomain "github.com/smallbiznis/emissor/internal/fiscalconfig/domain"
	eventdomain "github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	obsmetrics "github.com/smallbiznis/emissor/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	DocRepo    documentdomain.Repository
	CfgRepo    configdomain.Repository
	Resolver   configdomain.Resolver
	Gateway    emissiondomain.GatewayClient
	Recorder   eventdomain.Recorder
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	docRepo    documentdomain.Repository
	cfgRepo    configdomain.Repository
	resolver   configdomain.Resolver
	gateway    emissiondomain.GatewayClient
	recorder   eventdomain.Recorder
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) emissiondomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("emission.service"),
		clock:      p.Clock,
		docRepo:    p.DocRepo,
		cfgRepo:    p.CfgRepo,
		resolver:   p.Resolver,
		gateway:    p.Gateway,
		recorder:   p.Recorder,
		obsMetrics: p.ObsMetrics,
	}
}

// Emit runs one emission attempt for the document. Every failure before the
// processing transition leaves the document untouched; every failure after
// it lands the document in the terminal error status, visible and auditable.
// A failed or stuck document is never retried automatically.
func (s *Service) Emit(ctx context.Context, orgID, documentID snowflake.ID, kind documentdomain.DocumentKind) (*emissiondomain.Result, error) {
	doc, err := s.docRepo.FindByOrgAndID(ctx, s.db, orgID, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil || doc.Kind != kind {
		return nil, &documentdomain.NotFoundError{Resource: "fiscal document"}
	}

	cfg, err := s.cfgRepo.FindByOrg(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, &documentdomain.NotFoundError{Resource: "fiscal configuration"}
	}

	items, err := s.docRepo.ListItems(ctx, s.db, orgID, documentID)
	if err != nil {
		return nil, err
	}

	credential, err := s.resolver.Credential(cfg)
	if err != nil {
		return nil, err
	}
	endpoint := s.resolver.Endpoint(cfg)

	now := s.clock.Now()

	// The builder is pure, so preconditions run before any state is touched.
	var body any
	switch kind {
	case documentdomain.KindService:
		body, err = payload.BuildService(cfg, doc, items, now)
	default:
		body, err = payload.BuildGoods(cfg, doc, items, now)
	}
	if err != nil {
		return nil, err
	}

	reference := newReference(kind, orgID, now)

	// Persisting processing before the network call keeps a crash mid-call
	// visible as an in-flight record instead of a silently stale draft. The
	// conditional update also settles the race between two callers that both
	// read draft: exactly one wins.
	won, err := s.docRepo.MarkProcessing(ctx, s.db, orgID, documentID, reference, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, &documentdomain.ValidationError{
			Message: "document is no longer in draft status",
		}
	}

	resp, submitErr := s.gateway.Submit(ctx, kind, reference, body, credential, endpoint)
	if submitErr != nil {
		return nil, s.failAttempt(ctx, orgID, documentID, kind, submitErr)
	}

	if err := s.applyResult(ctx, orgID, documentID, kind, cfg, resp); err != nil {
		return nil, s.failAttempt(ctx, orgID, documentID, kind, err)
	}

	s.recorder.Record(ctx, orgID, documentID, eventdomain.KindEmission, resp.Status(), resp.String("mensagem_sefaz"), resp.Raw)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordEmission(ctx, string(kind), resp.Status())
	}

	final, err := s.docRepo.FindByOrgAndID(ctx, s.db, orgID, documentID)
	if err != nil {
		return nil, err
	}
	return &emissiondomain.Result{
		Document:      final,
		GatewayStatus: resp.Status(),
	}, nil
}

// failAttempt lands the document in the terminal error status. The earlier
// processing write is deliberately not rolled back to draft: failed attempts
// stay visible for operators instead of silently reverting.
func (s *Service) failAttempt(ctx context.Context, orgID, documentID snowflake.ID, kind documentdomain.DocumentKind, cause error) error {
	message := cause.Error()

	fields := map[string]any{
		"status":          documentdomain.StatusError,
		"gateway_message": message,
		"updated_at":      s.clock.Now(),
	}
	if err := s.docRepo.UpdateFields(ctx, s.db, orgID, documentID, fields); err != nil {
		s.log.Error("failed to persist error status",
			zap.String("document_id", documentID.String()),
			zap.Error(err),
		)
	}

	s.recorder.Record(ctx, orgID, documentID, eventdomain.KindError, "", message, nil)
	if s.obsMetrics != nil {
		s.obsMetrics.RecordEmission(ctx, string(kind), "error")
	}
	return cause
}

// applyResult maps the gateway's reported status onto the stored lifecycle
// and persists every identifier the gateway returned. An unknown status
// leaves the document in processing for operator inspection.
func (s *Service) applyResult(ctx context.Context, orgID, documentID snowflake.ID, kind documentdomain.DocumentKind, cfg *configdomain.FiscalConfig, resp *emissiondomain.GatewayResponse) error {
	now := s.clock.Now()
	status := documentdomain.StatusProcessing

	switch resp.Status() {
	case emissiondomain.GatewayStatusAuthorized:
		status = documentdomain.StatusAuthorized
	case emissiondomain.GatewayStatusAuthError:
		status = documentdomain.StatusRejected
	case emissiondomain.GatewayStatusDenied:
		// denegado exists only in the goods vocabulary.
		if kind == documentdomain.KindGoods {
			status = documentdomain.StatusRejected
		}
	}

	fields := map[string]any{
		"status":         status,
		"gateway_status": resp.Status(),
		"updated_at":     now,
	}
	if message := firstNonEmpty(resp.String("mensagem_sefaz"), resp.String("mensagem")); message != "" {
		fields["gateway_message"] = message
	}
	if accessKey := resp.String("chave_nfe"); accessKey != "" {
		fields["access_key"] = accessKey
	}
	if protocol := resp.String("protocolo"); protocol != "" {
		fields["protocol"] = protocol
	}
	if series := resp.String("serie"); series != "" {
		fields["series"] = series
	}
	if xmlPath := resp.String("caminho_xml_nota_fiscal"); xmlPath != "" {
		fields["xml_path"] = xmlPath
	}
	if danfePath := resp.String("caminho_danfe"); danfePath != "" {
		fields["danfe_path"] = danfePath
	}
	if documentURL := resp.String("url"); documentURL != "" {
		fields["document_url"] = documentURL
	}

	number := strings.TrimSpace(resp.String("numero"))
	if number != "" {
		fields["number"] = number
	}
	if status == documentdomain.StatusAuthorized {
		fields["issued_at"] = now
	}

	if err := s.docRepo.UpdateFields(ctx, s.db, orgID, documentID, fields); err != nil {
		return err
	}

	if status == documentdomain.StatusAuthorized && number != "" {
		if parsed, err := strconv.ParseInt(number, 10, 64); err == nil {
			if err := s.cfgRepo.AdvanceLastNumber(ctx, s.db, orgID, kind, parsed); err != nil {
				return err
			}
		}
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
