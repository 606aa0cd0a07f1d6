// Package rubric defines the fixed call-quality rubric used to grade
// customer-service calls: twelve weighted checklist criteria totalling
// [MaxScore] points, the eliminatory criteria, the mandatory closing script,
// and the grading prompt built from them.
//
// Everything in this package is static data or a pure function of its inputs
// and is safe for concurrent use.
package rubric

import "slices"

// Key identifies one of the twelve checklist criteria. The string values are
// the keys used in reference snapshots and grader responses.
type Key string

const (
	KeyGreeting         Key = "1_atendimento_saudacao"
	KeyRegistrationData Key = "2_dados_cadastro"
	KeyLGPDScript       Key = "3_script_lgpd"
	KeyEchoTechnique    Key = "4_tecnica_eco"
	KeyActiveListening  Key = "5_escuta_atenta"
	KeyUnderstanding    Key = "6_compreensao"
	KeyDamageConfirmed  Key = "7_confirmacao_dano"
	KeyCityAndStore     Key = "8_cidade_loja"
	KeyCommunication    Key = "9_comunicacao_eficaz"
	KeyWelcomingConduct Key = "10_conduta_acolhedora"
	KeyClosingScript    Key = "11_script_encerramento"
	KeySatisfaction     Key = "12_pesquisa_satisfacao"
)

// Count is the number of fixed checklist criteria.
const Count = 12

// MaxScore is the sum of all criterion weights.
const MaxScore = 81

// Criterion describes one weighted yes/no checklist item.
type Criterion struct {
	// Number is the 1-based display position.
	Number int

	// Key is the snapshot and response key.
	Key Key

	// Label is the short human-readable label, including the weight.
	Label string

	// Points is the weight awarded when the criterion is satisfied.
	Points int

	// Question is the full question asked of the grader.
	Question string
}

var criteria = [Count]Criterion{
	{1, KeyGreeting, "1. Atendimento e saudação (10 pts)", 10,
		"Atendeu a ligação prontamente, dentro de 5 seg. e utilizou a saudação correta com as técnicas do atendimento encantador?"},
	{2, KeyRegistrationData, "2. Coleta de dados cadastrais (6 pts)", 6,
		"Solicitou os dados do cadastro do cliente e pediu 2 telefones para contato, nome, cpf, placa do veículo e endereço? Para Bradesco/Sura/ALD: CPF e endereço podem ser dispensados se já estão no sistema. Só é \"sim\" se todas as informações forem solicitadas"},
	{3, KeyLGPDScript, "3. Script LGPD (2 pts)", 2,
		"O Atendente Verbalizou o script LGPD? Script informado em INSTRUÇÕES ADICIONAIS DE AVALIAÇÃO tópico 2."},
	{4, KeyEchoTechnique, "4. Técnica do Eco (5 pts)", 5,
		"Repetiu verbalmente pelo menos duas das três informações principais (placa do veículo, telefone de contato, CPF) para confirmar que coletou corretamente os dados?"},
	{5, KeyActiveListening, "5. Escuta atenta (3 pts)", 3,
		"Escutou atentamente a solicitação do segurado evitando solicitações em duplicidade?"},
	{6, KeyUnderstanding, "6. Compreensão da solicitação (5 pts)", 5,
		"Compreendeu a solicitação do cliente em linha e demonstrou que entende sobre os serviços da empresa?"},
	{7, KeyDamageConfirmed, "7. Confirmação do dano (10 pts)", 10,
		"Confirmou as informações completas sobre o dano no veículo? Confirmou data e motivo da quebra, registro do item, dano na pintura e demais informações necessárias para o correto fluxo de atendimento. (tamanho da trinca, LED, Xenon, etc)"},
	{8, KeyCityAndStore, "8. Cidade e loja (10 pts)", 10,
		"Confirmou cidade para o atendimento e selecionou corretamente a primeira opção de loja identificada pelo sistema? ATENÇÃO: Ambos os critérios são obrigatórios - confirmar cidade E selecionar loja."},
	{9, KeyCommunication, "9. Comunicação eficaz (5 pts)", 5,
		"A comunicação com o cliente foi eficaz: não houve uso de gírias, linguagem inadequada ou conversas paralelas? O analista informou quando ficou ausente da linha e quando retornou?"},
	{10, KeyWelcomingConduct, "10. Conduta acolhedora (4 pts)", 4,
		"A conduta do analista foi acolhedora, com sorriso na voz, empatia e desejo verdadeiro em entender e solucionar a solicitação do cliente?"},
	{11, KeyClosingScript, "11. Script de encerramento (15 pts)", 15,
		"Realizou o script de encerramento completo, informando: prazo de validade, franquia, link de acompanhamento e vistoria, e orientou que o cliente aguarde o contato para agendamento?"},
	{12, KeySatisfaction, "12. Pesquisa de satisfação (6 pts)", 6,
		"Orientou o cliente sobre a pesquisa de satisfação do atendimento?"},
}

// Criteria returns the twelve criteria in display order. The returned slice
// is a copy and may be modified by the caller.
func Criteria() []Criterion {
	return slices.Clone(criteria[:])
}

// Lookup returns the criterion registered under key.
func Lookup(key string) (Criterion, bool) {
	i := indexOf(Key(key))
	if i < 0 {
		return Criterion{}, false
	}
	return criteria[i], true
}

// ByNumber returns the criterion with the given 1-based display number.
func ByNumber(n int) (Criterion, bool) {
	if n < 1 || n > Count {
		return Criterion{}, false
	}
	return criteria[n-1], true
}

// Label returns the human-readable label for key. Keys outside the fixed
// set are returned unchanged so callers can always render something.
func Label(key string) string {
	if c, ok := Lookup(key); ok {
		return c.Label
	}
	return key
}

// IsValid reports whether k is one of the twelve fixed keys.
func (k Key) IsValid() bool {
	return indexOf(k) >= 0
}

func indexOf(k Key) int {
	for i := range criteria {
		if criteria[i].Key == k {
			return i
		}
	}
	return -1
}
