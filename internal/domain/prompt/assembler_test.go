package prompt_test

import (
	"strings"
	"testing"
	"time"

	"github.com/zapqual/engine/internal/domain/message"
	"github.com/zapqual/engine/internal/domain/prompt"
	"github.com/zapqual/engine/internal/domain/session"
)

func newAssembler(t *testing.T) *prompt.Assembler {
	t.Helper()
	engine, err := prompt.NewEngine(8)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return prompt.NewAssembler(engine).WithClock(func() time.Time { return renderTime })
}

func TestAssembler_Build(t *testing.T) {
	assembler := newAssembler(t)

	state := session.NewState("org1:551199", "org1", "551199", renderTime)
	state.Stage = session.StageProblem
	state.Facts = session.Facts{Name: "Ana", PersonType: session.PersonIndividual}
	state.AnsweredTopics = []string{"nome"}

	history := []message.Message{
		{Direction: message.DirectionInbound, Text: "Oi, me chamo Ana"},
		{Direction: message.DirectionOutbound, Text: "Olá Ana! Como posso ajudar?"},
		{Direction: message.DirectionInbound, Text: "Tenho um problema com entregas"},
	}

	out, err := assembler.Build(history, state, "Priorize leads do setor de alimentação.")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, want := range []string{
		"Etapa atual: P.",
		"Nome: Ana",
		"Tipo: PF",
		"Empresa: (desconhecida)",
		"respondidos: nome",
		"Metodologia da organização:\nPriorize leads do setor de alimentação.",
		"Cliente: Oi, me chamo Ana",
		"Assistente: Olá Ana! Como posso ajudar?",
		"Cliente: Tenho um problema com entregas",
		"Horário atual: 2026-03-10T15:04:05Z",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q\n---\n%s", want, out)
		}
	}

	if !strings.HasSuffix(out, "Assistente:") {
		t.Errorf("prompt must end with the assistant cue, got tail %q", out[len(out)-30:])
	}

	// History order must be preserved.
	first := strings.Index(out, "Cliente: Oi, me chamo Ana")
	second := strings.Index(out, "Assistente: Olá Ana!")
	third := strings.Index(out, "Cliente: Tenho um problema")
	if !(first < second && second < third) {
		t.Error("history rendered out of chronological order")
	}
}

func TestAssembler_BuildWithoutOrgDocument(t *testing.T) {
	assembler := newAssembler(t)
	state := session.NewState("org1:551199", "org1", "551199", renderTime)

	out, err := assembler.Build(nil, state, "   ")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if strings.Contains(out, "Metodologia da organização") {
		t.Error("blank org document must not render a methodology section")
	}
	if !strings.Contains(out, "Nome: (desconhecido)") {
		t.Error("empty facts must render the unknown placeholders")
	}
}

func TestAssembler_OrgDocumentUsesSessionContext(t *testing.T) {
	assembler := newAssembler(t)
	state := session.NewState("org1:551199", "org1", "551199", renderTime)
	state.Facts.Name = "Bruno"

	out, err := assembler.Build(nil, state, "Trate {{facts.name}} pelo nome.")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(out, "Trate Bruno pelo nome.") {
		t.Error("org document variables must resolve against the session context")
	}
}
