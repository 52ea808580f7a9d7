package payload

import (
	"strings"
	"time"

	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
	configdomain "github.com/smallbiznis/emissor/internal/fiscalconfig/domain"
)

// ServiceInvoice is the NFS-e request body. The service endpoint requires
// boolean flags as literal "true"/"false" strings, not JSON booleans.
type ServiceInvoice struct {
	DataEmissao      string    `json:"data_emissao"`
	NaturezaOperacao string    `json:"natureza_operacao"`
	Prestador        Prestador `json:"prestador"`
	Tomador          Tomador   `json:"tomador"`
	Servico          Servico   `json:"servico"`
}

type Prestador struct {
	CNPJ               string `json:"cnpj"`
	InscricaoMunicipal string `json:"inscricao_municipal,omitempty"`
}

type Tomador struct {
	CPF         string   `json:"cpf,omitempty"`
	CNPJ        string   `json:"cnpj,omitempty"`
	RazaoSocial string   `json:"razao_social"`
	Email       string   `json:"email,omitempty"`
	Endereco    Endereco `json:"endereco"`
}

type Endereco struct {
	Logradouro string `json:"logradouro,omitempty"`
	Numero     string `json:"numero,omitempty"`
	Bairro     string `json:"bairro,omitempty"`
	Municipio  string `json:"municipio,omitempty"`
	UF         string `json:"uf,omitempty"`
	CEP        string `json:"cep,omitempty"`
}

type Servico struct {
	Aliquota                  float64 `json:"aliquota"`
	Discriminacao             string  `json:"discriminacao"`
	ISSRetido                 string  `json:"iss_retido"`
	ItemListaServico          string  `json:"item_lista_servico,omitempty"`
	CodigoTributarioMunicipio string  `json:"codigo_tributario_municipio,omitempty"`
	ValorServicos             float64 `json:"valor_servicos"`
}

// BuildService validates the service emission preconditions and maps the
// document to the NFS-e wire format.
func BuildService(cfg *configdomain.FiscalConfig, doc *documentdomain.FiscalDocument, items []documentdomain.DocumentItem, now time.Time) (*ServiceInvoice, error) {
	if err := validateService(cfg, doc); err != nil {
		return nil, err
	}

	invoice := &ServiceInvoice{
		DataEmissao:      now.Format(time.RFC3339),
		NaturezaOperacao: "1", // tributacao no municipio
		Prestador: Prestador{
			CNPJ:               digitsOnly(cfg.TaxID),
			InscricaoMunicipal: digitsOnly(cfg.MunicipalRegistration),
		},
		Tomador: Tomador{
			RazaoSocial: doc.RecipientName,
			Email:       strings.TrimSpace(doc.RecipientEmail),
			Endereco: Endereco{
				Logradouro: doc.Street,
				Numero:     doc.AddressNumber,
				Bairro:     doc.District,
				Municipio:  doc.Municipality,
				UF:         strings.ToUpper(strings.TrimSpace(doc.State)),
				CEP:        digitsOnly(doc.PostalCode),
			},
		},
		Servico: Servico{
			Aliquota:                  cfg.ServiceISSRate,
			Discriminacao:             serviceDescription(items),
			ISSRetido:                 boolString(false),
			ItemListaServico:          cfg.ServiceListItem,
			CodigoTributarioMunicipio: cfg.MunicipalTaxCode,
			ValorServicos:             centsToAmount(doc.TotalAmount),
		},
	}

	taxID := digitsOnly(doc.RecipientTaxID)
	if len(taxID) == 11 {
		invoice.Tomador.CPF = taxID
	} else {
		invoice.Tomador.CNPJ = taxID
	}

	return invoice, nil
}

// serviceDescription joins the item descriptions into the single
// discriminacao field the service endpoint expects.
func serviceDescription(items []documentdomain.DocumentItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		description := strings.TrimSpace(item.Description)
		if description != "" {
			parts = append(parts, description)
		}
	}
	return strings.Join(parts, "; ")
}

func validateService(cfg *configdomain.FiscalConfig, doc *documentdomain.FiscalDocument) error {
	if doc.Status != documentdomain.StatusDraft {
		return &documentdomain.ValidationError{
			Message: "document is not in draft status",
		}
	}
	if strings.TrimSpace(doc.RecipientName) == "" {
		return &documentdomain.ValidationError{Message: "recipient name is required"}
	}
	if digitsOnly(doc.RecipientTaxID) == "" {
		return &documentdomain.ValidationError{Message: "recipient tax id is required"}
	}
	if !cfg.ServicesEnabled {
		return &documentdomain.ValidationError{
			Message: "service invoice emission is not enabled for this organization",
		}
	}
	return nil
}
