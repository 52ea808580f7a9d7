package payload

// Domain code tables for the goods payload. Each lookup is a total function
// over the known vocabulary; defaults are applied only where the gateway
// tolerates them and are called out per table.

// Fixed operation parameters for a direct sale to a final consumer.
const (
	operationNature    = "Venda de mercadoria"
	documentTypeOut    = "1" // saida
	purposeNormal      = "1" // finalidade_emissao: normal
	presenceInPerson   = "1" // presenca_comprador: operacao presencial
	finalConsumerFlag  = "1"
	paymentMethodOther = "99" // forma_pagamento: outros
)

// Default tax classification applied when a line item carries none.
const (
	defaultUnit      = "UN"
	defaultNCM       = "00000000"
	defaultICMSCst   = "102" // Simples Nacional, sem permissao de credito
	defaultPISCst    = "07"  // operacao isenta de contribuicao
	defaultCOFINSCst = "07"
)

// CFOP pairs selected by jurisdiction match. ST-taxed items (CST 60) use the
// substituicao tributaria codes; everything else is a plain sale.
const (
	cfopInternalSale     = "5102"
	cfopInterstateSale   = "6102"
	cfopInternalSaleST   = "5405"
	cfopInterstateSaleST = "6405"
)

// originForCode normalizes the item origin code. Unknown values default to
// "0" (national), matching the gateway's own default.
func originForCode(code string) string {
	switch code {
	case "0", "1", "2", "3", "4", "5", "6", "7", "8":
		return code
	default:
		return "0"
	}
}

// cfopFor selects the operation code for an item that does not carry its
// own CFOP.
func cfopFor(sameState bool, icmsCst string) string {
	taxedBySubstitution := icmsCst == "60" || icmsCst == "500"
	if sameState {
		if taxedBySubstitution {
			return cfopInternalSaleST
		}
		return cfopInternalSale
	}
	if taxedBySubstitution {
		return cfopInterstateSaleST
	}
	return cfopInterstateSale
}
