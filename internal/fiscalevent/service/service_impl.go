package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	obsmetrics "github.com/smallbiznis/emissor/internal/observability/metrics"
	"github.com/smallbiznis/emissor/internal/orgcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Recorder {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("fiscalevent.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Record appends one audit row. The write is best-effort: the emission
// outcome it describes has already been persisted, so a failure here is
// logged and counted but not propagated.
func (s *Service) Record(ctx context.Context, orgID, documentID snowflake.ID, kind domain.EventKind, status, message string, payload []byte) {
	if len(payload) == 0 || !json.Valid(payload) {
		synthetic, _ := json.Marshal(map[string]string{"error": message})
		payload = synthetic
	}

	event := domain.FiscalEvent{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		DocumentID: documentID,
		Kind:       kind,
		Status:     status,
		Message:    message,
		Payload:    datatypes.JSON(payload),
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &event); err != nil {
		s.log.Warn("failed to write fiscal event",
			zap.String("document_id", documentID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		if s.obsMetrics != nil {
			s.obsMetrics.RecordEventWriteFailure(ctx)
		}
	}
}

func (s *Service) ListByDocument(ctx context.Context, orgID, documentID snowflake.ID) ([]domain.FiscalEvent, error) {
	if orgID == 0 {
		if ctxOrg, ok := orgcontext.OrgIDFromContext(ctx); ok {
			orgID = ctxOrg
		}
	}
	return s.repo.ListByDocument(ctx, s.db, orgID, documentID)
}
