package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	eventdomain "github.com/smallbiznis/emissor/internal/fiscalevent/domain"
	"github.com/smallbiznis/emissor/internal/orgcontext"
	"github.com/smallbiznis/emissor/pkg/db/pagination"
	"go.uber.org/zap"
)

type documentResponse struct {
	ID             string                        `json:"id"`
	Kind           documentdomain.DocumentKind   `json:"kind"`
	Status         documentdomain.DocumentStatus `json:"status"`
	RecipientName  string                        `json:"recipient_name"`
	RecipientTaxID string                        `json:"recipient_tax_id"`
	TotalAmount    int64                         `json:"total_amount"`
	Reference      string                        `json:"reference,omitempty"`
	AccessKey      string                        `json:"access_key,omitempty"`
	Protocol       string                        `json:"protocol,omitempty"`
	Number         string                        `json:"number,omitempty"`
	Series         string                        `json:"series,omitempty"`
	DocumentURL    string                        `json:"document_url,omitempty"`
	GatewayStatus  string                        `json:"gateway_status,omitempty"`
	GatewayMessage string                        `json:"gateway_message,omitempty"`
	XMLPath        string                        `json:"xml_path,omitempty"`
	DanfePath      string                        `json:"danfe_path,omitempty"`
	IssuedAt       *time.Time                    `json:"issued_at,omitempty"`
	CreatedAt      time.Time                     `json:"created_at"`
	UpdatedAt      time.Time                     `json:"updated_at"`

	Items []documentItemResponse `json:"items,omitempty"`
}

type documentItemResponse struct {
	Sequence    int    `json:"sequence"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
	Unit        string `json:"unit,omitempty"`
	NCM         string `json:"ncm,omitempty"`
	CFOP        string `json:"cfop,omitempty"`
}

type emissionResponse struct {
	Document      documentResponse `json:"document"`
	GatewayStatus string           `json:"gateway_status,omitempty"`
}

type documentListResponse struct {
	Documents []documentResponse  `json:"documents"`
	PageInfo  pagination.PageInfo `json:"page_info"`
}

type fiscalEventResponse struct {
	ID        string                `json:"id"`
	Kind      eventdomain.EventKind `json:"kind"`
	Status    string                `json:"status,omitempty"`
	Message   string                `json:"message,omitempty"`
	Payload   json.RawMessage       `json:"payload,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

func (s *Server) EmitGoods(c *gin.Context) {
	s.emit(c, documentdomain.KindGoods)
}

func (s *Server) EmitService(c *gin.Context) {
	s.emit(c, documentdomain.KindService)
}

func (s *Server) emit(c *gin.Context, kind documentdomain.DocumentKind) {
	ctx := c.Request.Context()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	documentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || documentID == 0 {
		AbortWithError(c, newValidationError("id", "invalid", "invalid document id"))
		return
	}

	// Short per-document lease so concurrent requests for the same document
	// do not both reach the gateway. The conditional status transition inside
	// the service remains the actual arbiter.
	token, acquired, lockErr := s.limiter.TryLockDocument(ctx, orgID.String(), documentID.String())
	if lockErr != nil {
		s.log.Warn("document lock unavailable", zap.Error(lockErr))
	} else if !acquired {
		AbortWithError(c, &documentdomain.ValidationError{Message: "an emission for this document is already in progress"})
		return
	}
	if token != "" {
		defer func() {
			if err := s.limiter.ReleaseDocument(ctx, orgID.String(), documentID.String(), token); err != nil {
				s.log.Warn("failed to release document lock", zap.Error(err))
			}
		}()
	}

	result, err := s.emissionSvc.Emit(ctx, orgID, documentID, kind)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, emissionResponse{
		Document:      toDocumentResponse(result.Document, nil),
		GatewayStatus: result.GatewayStatus,
	})
}

func (s *Server) ListDocuments(c *gin.Context) {
	ctx := c.Request.Context()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if page.PageSize <= 0 {
		page.PageSize = 20
	}
	if page.PageSize > 250 {
		page.PageSize = 250
	}

	filter := documentdomain.ListFilter{
		OrgID: orgID,
		Kind:  documentdomain.DocumentKind(strings.TrimSpace(c.Query("kind"))),
		Status: documentdomain.DocumentStatus(
			strings.TrimSpace(c.Query("status")),
		),
		Limit: page.PageSize + 1,
	}

	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid", "invalid page token"))
			return
		}
		listCursor, err := toListCursor(cursor)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid", "invalid page token"))
			return
		}
		filter.Cursor = listCursor
	}

	docs, err := s.docRepo.List(ctx, s.db, filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pageInfo := pagination.PageInfo{}
	if len(docs) > page.PageSize {
		docs = docs[:page.PageSize]
		last := docs[len(docs)-1]
		next, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        last.ID.String(),
			CreatedAt: last.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		pageInfo.NextPageToken = next
		pageInfo.HasMore = true
	}

	resp := documentListResponse{
		Documents: make([]documentResponse, 0, len(docs)),
		PageInfo:  pageInfo,
	}
	for _, doc := range docs {
		resp.Documents = append(resp.Documents, toDocumentResponse(doc, nil))
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetDocument(c *gin.Context) {
	ctx := c.Request.Context()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	documentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || documentID == 0 {
		AbortWithError(c, newValidationError("id", "invalid", "invalid document id"))
		return
	}

	doc, err := s.docRepo.FindByOrgAndID(ctx, s.db, orgID, documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if doc == nil {
		AbortWithError(c, &documentdomain.NotFoundError{Resource: "fiscal document"})
		return
	}

	items, err := s.docRepo.ListItems(ctx, s.db, orgID, documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDocumentResponse(doc, items))
}

func (s *Server) ListDocumentEvents(c *gin.Context) {
	ctx := c.Request.Context()

	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	documentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || documentID == 0 {
		AbortWithError(c, newValidationError("id", "invalid", "invalid document id"))
		return
	}

	doc, err := s.docRepo.FindByOrgAndID(ctx, s.db, orgID, documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if doc == nil {
		AbortWithError(c, &documentdomain.NotFoundError{Resource: "fiscal document"})
		return
	}

	events, err := s.recorder.ListByDocument(ctx, orgID, documentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := make([]fiscalEventResponse, 0, len(events))
	for i := range events {
		event := &events[i]
		resp = append(resp, fiscalEventResponse{
			ID:        event.ID.String(),
			Kind:      event.Kind,
			Status:    event.Status,
			Message:   event.Message,
			Payload:   json.RawMessage(event.Payload),
			CreatedAt: event.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"events": resp})
}

func toDocumentResponse(doc *documentdomain.FiscalDocument, items []documentdomain.DocumentItem) documentResponse {
	resp := documentResponse{
		ID:             doc.ID.String(),
		Kind:           doc.Kind,
		Status:         doc.Status,
		RecipientName:  doc.RecipientName,
		RecipientTaxID: doc.RecipientTaxID,
		TotalAmount:    doc.TotalAmount,
		Reference:      doc.Reference,
		AccessKey:      doc.AccessKey,
		Protocol:       doc.Protocol,
		Number:         doc.Number,
		Series:         doc.Series,
		DocumentURL:    doc.DocumentURL,
		GatewayStatus:  doc.GatewayStatus,
		GatewayMessage: doc.GatewayMessage,
		XMLPath:        doc.XMLPath,
		DanfePath:      doc.DanfePath,
		IssuedAt:       doc.IssuedAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
	for i := range items {
		item := &items[i]
		resp.Items = append(resp.Items, documentItemResponse{
			Sequence:    item.Sequence,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Amount,
			Unit:        item.Unit,
			NCM:         item.NCM,
			CFOP:        item.CFOP,
		})
	}
	return resp
}

func toListCursor(cursor *pagination.Cursor) (*documentdomain.ListCursor, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(cursor.ID))
	if err != nil {
		return nil, err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(cursor.CreatedAt))
	if err != nil {
		return nil, err
	}
	return &documentdomain.ListCursor{ID: id, CreatedAt: createdAt}, nil
}
