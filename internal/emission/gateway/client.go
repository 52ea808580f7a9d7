// Package gateway implements the HTTP client for the external fiscal
// gateway. The client normalizes transport and business failures into
// GatewayError and never interprets the success vocabulary itself.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/smallbiznis/emissor/internal/config"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	emissiondomain "github.com/smallbiznis/emissor/internal/emission/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	GatewayCfg *config.GatewayConfigHolder
}

type Client struct {
	log        *zap.Logger
	gatewayCfg *config.GatewayConfigHolder
	httpClient *http.Client
}

func NewClient(p Params) emissiondomain.GatewayClient {
	return &Client{
		log:        p.Log.Named("emission.gateway"),
		gatewayCfg: p.GatewayCfg,
		httpClient: &http.Client{Timeout: p.GatewayCfg.Get().Timeout()},
	}
}

// Submit posts one payload to the kind-specific gateway path, authenticated
// with HTTP Basic (credential as username, empty password) and keyed by the
// caller's idempotency reference.
func (c *Client) Submit(ctx context.Context, kind documentdomain.DocumentKind, reference string, payload any, credential, endpoint string) (*emissiondomain.GatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &documentdomain.GatewayError{Message: fmt.Sprintf("encode payload: %v", err)}
	}

	target := strings.TrimRight(endpoint, "/") + pathForKind(kind) + "?ref=" + url.QueryEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, &documentdomain.GatewayError{Message: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(credential, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &documentdomain.GatewayError{Message: fmt.Sprintf("gateway unreachable: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &documentdomain.GatewayError{Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := extractErrorMessage(raw)
		if message == "" {
			message = fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		}
		c.log.Warn("gateway rejected submission",
			zap.String("kind", string(kind)),
			zap.String("reference", reference),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil, &documentdomain.GatewayError{Message: message}
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &documentdomain.GatewayError{Message: "gateway returned a malformed response body"}
	}

	return &emissiondomain.GatewayResponse{
		Raw:    raw,
		Fields: fields,
	}, nil
}

func pathForKind(kind documentdomain.DocumentKind) string {
	if kind == documentdomain.KindService {
		return "/v2/nfse"
	}
	return "/v2/nfe"
}

// extractErrorMessage walks the fields the gateway is known to use for
// human messages, in order of preference.
func extractErrorMessage(raw []byte) string {
	var body struct {
		Mensagem string `json:"mensagem"`
		Message  string `json:"message"`
		Erro     string `json:"erro"`
		Erros    []struct {
			Mensagem string `json:"mensagem"`
		} `json:"erros"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}

	for _, candidate := range []string{body.Mensagem, body.Message, body.Erro} {
		if strings.TrimSpace(candidate) != "" {
			return strings.TrimSpace(candidate)
		}
	}

	parts := make([]string, 0, len(body.Erros))
	for _, item := range body.Erros {
		if strings.TrimSpace(item.Mensagem) != "" {
			parts = append(parts, strings.TrimSpace(item.Mensagem))
		}
	}
	return strings.Join(parts, "; ")
}
