// Package payload builds gateway wire payloads from domain records. Builders
// are pure: validation and mapping only, no I/O.
package payload

import (
	"strings"
	"time"

	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	configdomain "github.com/smallbiznis/emissor/internal/fiscalconfig/domain"
)

// GoodsInvoice is the NF-e request body.
type GoodsInvoice struct {
	NaturezaOperacao  string `json:"natureza_operacao"`
	DataEmissao       string `json:"data_emissao"`
	TipoDocumento     string `json:"tipo_documento"`
	FinalidadeEmissao string `json:"finalidade_emissao"`
	ConsumidorFinal   string `json:"consumidor_final"`
	PresencaComprador string `json:"presenca_comprador"`

	CNPJEmitente string `json:"cnpj_emitente"`

	NomeDestinatario string `json:"nome_destinatario"`
	CPFDestinatario  string `json:"cpf_destinatario,omitempty"`
	CNPJDestinatario string `json:"cnpj_destinatario,omitempty"`

	LogradouroDestinatario string `json:"logradouro_destinatario"`
	NumeroDestinatario     string `json:"numero_destinatario,omitempty"`
	BairroDestinatario     string `json:"bairro_destinatario,omitempty"`
	MunicipioDestinatario  string `json:"municipio_destinatario"`
	UFDestinatario         string `json:"uf_destinatario"`
	CEPDestinatario        string `json:"cep_destinatario,omitempty"`

	ValorFrete      float64 `json:"valor_frete"`
	ValorSeguro     float64 `json:"valor_seguro"`
	ValorTotal      float64 `json:"valor_total"`
	ModalidadeFrete string  `json:"modalidade_frete"`

	Items           []GoodsItem `json:"items"`
	FormasPagamento []Payment   `json:"formas_pagamento"`
}

// GoodsItem is one NF-e line. Items are renumbered from 1 in emission order
// regardless of the stored sequence.
type GoodsItem struct {
	NumeroItem              int     `json:"numero_item"`
	CodigoProduto           string  `json:"codigo_produto"`
	Descricao               string  `json:"descricao"`
	CFOP                    string  `json:"cfop"`
	CodigoNCM               string  `json:"codigo_ncm"`
	UnidadeComercial        string  `json:"unidade_comercial"`
	QuantidadeComercial     int64   `json:"quantidade_comercial"`
	ValorUnitarioComercial  float64 `json:"valor_unitario_comercial"`
	ValorBruto              float64 `json:"valor_bruto"`
	UnidadeTributavel       string  `json:"unidade_tributavel"`
	QuantidadeTributavel    int64   `json:"quantidade_tributavel"`
	ValorUnitarioTributavel float64 `json:"valor_unitario_tributavel"`
	ICMSOrigem              string  `json:"icms_origem"`
	ICMSSituacaoTributaria  string  `json:"icms_situacao_tributaria"`
	PISSituacaoTributaria   string  `json:"pis_situacao_tributaria"`
	COFINSSituacao          string  `json:"cofins_situacao_tributaria"`
}

// Payment is one NF-e payment line. Emission always builds a single line
// covering the full total with the "other" method code.
type Payment struct {
	FormaPagamento string  `json:"forma_pagamento"`
	ValorPagamento float64 `json:"valor_pagamento"`
}

// BuildGoods validates the goods emission preconditions and maps the
// document to the NF-e wire format.
func BuildGoods(cfg *configdomain.FiscalConfig, doc *documentdomain.FiscalDocument, items []documentdomain.DocumentItem, now time.Time) (*GoodsInvoice, error) {
	if err := validateGoods(cfg, doc, items, now); err != nil {
		return nil, err
	}

	sameState := strings.EqualFold(strings.TrimSpace(doc.State), strings.TrimSpace(cfg.State))

	invoice := &GoodsInvoice{
		NaturezaOperacao:  operationNature,
		DataEmissao:       now.Format(time.RFC3339),
		TipoDocumento:     documentTypeOut,
		FinalidadeEmissao: purposeNormal,
		ConsumidorFinal:   finalConsumerFlag,
		PresencaComprador: presenceInPerson,

		CNPJEmitente: digitsOnly(cfg.TaxID),

		NomeDestinatario: doc.RecipientName,

		LogradouroDestinatario: doc.Street,
		NumeroDestinatario:     doc.AddressNumber,
		BairroDestinatario:     doc.District,
		MunicipioDestinatario:  doc.Municipality,
		UFDestinatario:         strings.ToUpper(strings.TrimSpace(doc.State)),
		CEPDestinatario:        digitsOnly(doc.PostalCode),

		ValorTotal:      centsToAmount(doc.TotalAmount),
		ModalidadeFrete: "9", // sem frete

		FormasPagamento: []Payment{{
			FormaPagamento: paymentMethodOther,
			ValorPagamento: centsToAmount(doc.TotalAmount),
		}},
	}

	// 11 digits is a CPF (individual), 14 a CNPJ (company); the gateway
	// rejects the wrong field.
	taxID := digitsOnly(doc.RecipientTaxID)
	if len(taxID) == 11 {
		invoice.CPFDestinatario = taxID
	} else {
		invoice.CNPJDestinatario = taxID
	}

	invoice.Items = make([]GoodsItem, 0, len(items))
	for i, item := range items {
		invoice.Items = append(invoice.Items, buildGoodsItem(i+1, item, sameState))
	}

	return invoice, nil
}

func buildGoodsItem(number int, item documentdomain.DocumentItem, sameState bool) GoodsItem {
	unit := strings.TrimSpace(item.Unit)
	if unit == "" {
		unit = defaultUnit
	}
	ncm := digitsOnly(item.NCM)
	if ncm == "" {
		ncm = defaultNCM
	}
	icmsCst := strings.TrimSpace(item.ICMSCst)
	if icmsCst == "" {
		icmsCst = defaultICMSCst
	}
	pisCst := strings.TrimSpace(item.PISCst)
	if pisCst == "" {
		pisCst = defaultPISCst
	}
	cofinsCst := strings.TrimSpace(item.COFINSCst)
	if cofinsCst == "" {
		cofinsCst = defaultCOFINSCst
	}
	cfop := strings.TrimSpace(item.CFOP)
	if cfop == "" {
		cfop = cfopFor(sameState, icmsCst)
	}

	return GoodsItem{
		NumeroItem:              number,
		CodigoProduto:           item.ID.String(),
		Descricao:               item.Description,
		CFOP:                    cfop,
		CodigoNCM:               ncm,
		UnidadeComercial:        unit,
		QuantidadeComercial:     item.Quantity,
		ValorUnitarioComercial:  centsToAmount(item.UnitAmount),
		ValorBruto:              centsToAmount(item.Amount),
		UnidadeTributavel:       unit,
		QuantidadeTributavel:    item.Quantity,
		ValorUnitarioTributavel: centsToAmount(item.UnitAmount),
		ICMSOrigem:              originForCode(strings.TrimSpace(item.Origin)),
		ICMSSituacaoTributaria:  icmsCst,
		PISSituacaoTributaria:   pisCst,
		COFINSSituacao:          cofinsCst,
	}
}

func validateGoods(cfg *configdomain.FiscalConfig, doc *documentdomain.FiscalDocument, items []documentdomain.DocumentItem, now time.Time) error {
	if doc.Status != documentdomain.StatusDraft {
		return &documentdomain.ValidationError{
			Message: "document is not in draft status",
		}
	}
	if len(items) == 0 {
		return &documentdomain.ValidationError{
			Message: "document has no line items",
		}
	}
	if strings.TrimSpace(doc.RecipientName) == "" {
		return &documentdomain.ValidationError{Message: "recipient name is required"}
	}
	if digitsOnly(doc.RecipientTaxID) == "" {
		return &documentdomain.ValidationError{Message: "recipient tax id is required"}
	}
	if strings.TrimSpace(doc.Street) == "" ||
		strings.TrimSpace(doc.Municipality) == "" ||
		strings.TrimSpace(doc.State) == "" {
		return &documentdomain.ValidationError{
			Message: "recipient address (street, municipality and state) is required for goods invoices",
		}
	}
	if !cfg.GoodsEnabled {
		return &documentdomain.ValidationError{
			Message: "goods invoice emission is not enabled for this organization",
		}
	}
	if cfg.CertificateExpiresAt == nil || !cfg.CertificateExpiresAt.After(now) {
		return &documentdomain.ValidationError{
			Message: "digital certificate is expired or missing; renew it before emitting goods invoices",
		}
	}
	return nil
}
