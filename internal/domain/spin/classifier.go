package spin

import (
	"strings"

	"github.com/zapqual/engine/internal/domain/session"
)

// Signal is the classifier's verdict on a piece of conversation text.
type Signal struct {
	Stage         session.Stage
	Confidence    float64
	MatchedTopics []string
}

// Classifier maps free text to the SPIN stage it signals. The default
// implementation is a keyword heuristic; it is deliberately decoupled
// from the state machine so it can be replaced by a proper NLP model
// without touching gating or transition logic.
type Classifier interface {
	Classify(text string) Signal
}

// KeywordClassifier matches Portuguese sales vocabulary per stage. The
// word lists are a replaceable heuristic, not part of the engine's
// architecture.
type KeywordClassifier struct {
	vocabulary map[session.Stage][]string
}

// NewKeywordClassifier returns the default keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		vocabulary: map[session.Stage][]string{
			session.StageProblem: {
				"problema", "dificuldade", "desafio", "dor de cabeça",
				"nao consigo", "não consigo", "complicado", "travado",
			},
			session.StageImplication: {
				"prejuizo", "prejuízo", "impacto", "perdendo", "custo",
				"atraso", "consequencia", "consequência", "arriscado",
			},
			session.StageNeed: {
				"preciso", "solucao", "solução", "proposta", "orcamento",
				"orçamento", "contratar", "quanto custa", "demonstracao",
				"demonstração", "quero resolver",
			},
		},
	}
}

// Classify scans the text for stage vocabulary, preferring the most
// advanced stage matched. Text with no matches signals the Situation
// stage with zero confidence.
func (c *KeywordClassifier) Classify(text string) Signal {
	lowered := strings.ToLower(text)

	best := Signal{Stage: session.StageSituation}
	for _, stage := range []session.Stage{session.StageProblem, session.StageImplication, session.StageNeed} {
		var matched []string
		for _, word := range c.vocabulary[stage] {
			if strings.Contains(lowered, word) {
				matched = append(matched, word)
			}
		}
		if len(matched) == 0 {
			continue
		}
		confidence := float64(len(matched)) / float64(len(c.vocabulary[stage]))
		if confidence > 1 {
			confidence = 1
		}
		// Later stages win ties so a message naming both a problem and a
		// need signals the need.
		if stage.Rank() >= best.Stage.Rank() {
			best = Signal{
				Stage:         stage,
				Confidence:    confidence,
				MatchedTopics: matched,
			}
		}
	}
	return best
}

var _ Classifier = (*KeywordClassifier)(nil)
