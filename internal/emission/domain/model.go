// Package domain defines the emission workflow contracts.
package domain

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
)

// Gateway status vocabulary. The gateway owns this vocabulary; the client
// returns it verbatim and only the emission service interprets it.
const (
	GatewayStatusAuthorized = "autorizado"
	GatewayStatusProcessing = "processando"
	GatewayStatusAuthError  = "erro_autorizacao"
	GatewayStatusDenied     = "denegado"
)

// GatewayResponse carries the gateway's JSON body verbatim plus a decoded
// view for field access.
type GatewayResponse struct {
	Raw    json.RawMessage
	Fields map[string]any
}

// Status returns the gateway's reported status string, empty when absent.
func (r *GatewayResponse) Status() string {
	return r.String("status")
}

// String returns the named field as a string, tolerating JSON numbers.
func (r *GatewayResponse) String(key string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	switch typed := r.Fields[key].(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case json.Number:
		return typed.String()
	}
	return ""
}

// GatewayClient submits one built payload to the fiscal gateway. reference
// is the caller-supplied idempotency token; the response body is returned
// verbatim on success and a GatewayError is returned otherwise.
type GatewayClient interface {
	Submit(ctx context.Context, kind documentdomain.DocumentKind, reference string, payload any, credential, endpoint string) (*GatewayResponse, error)
}

// Result is the outcome of one emission attempt: the re-read document state
// and the status string the gateway reported.
type Result struct {
	Document      *documentdomain.FiscalDocument `json:"document"`
	GatewayStatus string                         `json:"gateway_status"`
}

// Service runs the emission state machine for one document.
type Service interface {
	Emit(ctx context.Context, orgID, documentID snowflake.ID, kind documentdomain.DocumentKind) (*Result, error)
}
