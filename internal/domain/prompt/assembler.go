package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/session"
)

// baseInstructions is the fixed operational layer shared by every
// organization: data-collection requirements, gating rules and tone.
// The per-org methodology document and the state block are layered on
// top of it at build time.
const baseInstructions = `Você é um assistente de qualificação de vendas conduzindo uma conversa pelo WhatsApp.

Regras operacionais:
- Colete, nesta ordem, os dados que ainda faltam: nome do contato, se fala por conta própria (pessoa física) ou por uma empresa e, nesse caso, o nome da empresa.
- Enquanto esses dados não estiverem completos, permaneça na etapa de Situação: não aprofunde problema, impacto ou necessidade.
- Conduza a conversa pela metodologia SPIN: Situação, Problema, Implicação e Necessidade, uma etapa por vez.
- Etapa atual: {{stage}}.
- Fatos já conhecidos (use-os, nunca pergunte de novo):
  - Nome: {{#if facts.name}}{{facts.name}}{{else}}(desconhecido){{/if}}
  - Tipo: {{#if facts.person_type}}{{facts.person_type}}{{else}}(desconhecido){{/if}}
  - Empresa: {{#if facts.business}}{{facts.business}}{{else}}(desconhecida){{/if}}
  - Contato: {{#if facts.contact}}{{facts.contact}}{{else}}(desconhecido){{/if}}
- Tópicos já perguntados: {{#if asked_topics}}{{asked_topics}}{{else}}(nenhum){{/if}}
- Tópicos já respondidos: {{#if answered_topics}}{{answered_topics}}{{else}}(nenhum){{/if}}
- NUNCA repita uma pergunta sobre um tópico já respondido.
- Responda em uma única mensagem curta, cordial e direta, sem listas nem formatação.
- Horário atual: {{now}}.
`

// Assembler builds the single text blob handed to the inference call.
type Assembler struct {
	engine *Engine
	now    func() time.Time
}

// NewAssembler constructs the assembler around a template engine.
func NewAssembler(engine *Engine) *Assembler {
	return &Assembler{engine: engine, now: time.Now}
}

// WithClock overrides the assembler's clock. Test use only.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Build merges the fixed instructions, the organization's methodology
// document and the session context into one rendered prompt. The full
// chronological history of the conversation closes the prompt.
func (a *Assembler) Build(history []message.Message, state *session.State, orgInstructions string) (string, error) {
	data := contextData(state)
	now := a.now()

	rendered, err := a.engine.Render(baseInstructions, data, now)
	if err != nil {
		return "", fmt.Errorf("render base instructions: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(rendered)

	if doc := strings.TrimSpace(orgInstructions); doc != "" {
		renderedDoc, err := a.engine.Render(doc, data, now)
		if err != nil {
			return "", fmt.Errorf("render org instructions: %w", err)
		}
		sb.WriteString("\nMetodologia da organização:\n")
		sb.WriteString(renderedDoc)
		sb.WriteString("\n")
	}

	sb.WriteString("\nHistórico da conversa (em ordem cronológica):\n")
	for _, msg := range history {
		role := "Cliente"
		if msg.Direction == message.DirectionOutbound {
			role = "Assistente"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
		sb.WriteString("\n")
	}

	sb.WriteString("\nAssistente:")
	return sb.String(), nil
}

// contextData flattens the session into the template data tree.
func contextData(state *session.State) map[string]interface{} {
	return map[string]interface{}{
		"stage": string(state.Stage),
		"score": state.Score,
		"facts": map[string]interface{}{
			"name":        state.Facts.Name,
			"person_type": string(state.Facts.PersonType),
			"business":    state.Facts.Business,
			"contact":     state.Facts.Contact,
		},
		"asked_topics":    strings.Join(state.AskedTopics, ", "),
		"answered_topics": strings.Join(state.AnsweredTopics, ", "),
		"summary":         state.Summary,
	}
}
