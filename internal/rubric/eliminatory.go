package rubric

import "slices"

// Eliminatory is a criterion whose occurrence zeroes the call's score
// regardless of the checklist.
type Eliminatory struct {
	Question string
	Examples string
}

var eliminatory = []Eliminatory{
	{"Ofereceu/garantiu algum serviço que o cliente não tinha direito?",
		"Prometer serviços fora da cobertura, dar garantias não previstas no contrato."},
	{"Preencheu ou selecionou o Veículo/peça incorretos?",
		"Registrar modelo diferente do informado, selecionar peça diferente da solicitada."},
	{"Agiu de forma rude, grosseira, não deixando o cliente falar e/ou se alterou na ligação?",
		"Interrupções constantes, tom agressivo, impedir cliente de explicar situação."},
	{"Encerrou a chamada ou transferiu o cliente sem o seu conhecimento?",
		"Desligar abruptamente, transferir sem explicar ou obter consentimento."},
	{"Falou negativamente sobre a Carglass, afiliados, seguradoras ou colegas de trabalho?",
		"Criticar atendimento prévio, fazer comentários pejorativos sobre a empresa."},
	{"Forneceu informações incorretas ou fez suposições infundadas sobre garantias, serviços ou procedimentos?",
		"\"Como a lataria já passou para nós, então provavelmente a sua garantia é motor e câmbio\" sem ter certeza disso, sugerir que o cliente pode perder a garantia do veículo."},
	{"Comentou sobre serviços de terceiros ou orientou o cliente para serviços externos sem autorização?",
		"Sugerir que o cliente verifique procedimentos com a concessionária primeiro, fazer comparações com outros serviços, discutir políticas de garantia de outras empresas sem necessidade."},
}

// EliminatoryCriteria returns a copy of the eliminatory criteria in display order.
func EliminatoryCriteria() []Eliminatory {
	return slices.Clone(eliminatory)
}

// ClosingScript is the mandatory closing script the agent must read.
// XXX stands for the deductible amount quoted for the specific service.
const ClosingScript = `*obrigada por me aguardar! O seu atendimento foi gerado, e em breve receberá dois links no whatsapp informado, para acompanhar o pedido e realizar a vistoria.*
*Lembrando que o seu atendimento tem uma franquia de XXX que deverá ser paga no ato do atendimento. (****acessórios/RRSM ****- tem uma franquia que será confirmada após a vistoria).*
*Te ajudo com algo mais?*
*Ao final do atendimento terá uma pesquisa de Satisfação, a nota 5 é a máxima, tudo bem?*
*Agradeço o seu contato, tenha um excelente dia!*`
