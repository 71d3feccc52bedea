package spin

import (
	"regexp"
	"strings"

	"github.com/zapqual/engine/internal/domain/session"
)

// Extractor pulls structured facts out of free text. Like the
// classifier, the default implementation is a replaceable heuristic
// behind a narrow interface.
type Extractor interface {
	Extract(text string) session.Facts
}

// RegexExtractor recognizes the handful of fact patterns the
// qualification flow collects: the contact's name, whether they speak
// for themselves or an organization, the business name and a reachable
// contact.
type RegexExtractor struct{}

// NewRegexExtractor returns the default extractor.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{}
}

var (
	namePattern = regexp.MustCompile(`(?i)(?:meu nome [eé]|me chamo|aqui [eé] [oa]|sou [oa])\s+([\p{L}]+(?:\s+[\p{L}]+)?)`)

	businessPattern = regexp.MustCompile(`(?i)(?:minha empresa(?: se chama)?|trabalho na|sou da|represento a)\s+([\p{L}\d]+(?:\s+[\p{L}\d]+)?)`)

	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	organizationHints = []string{"empresa", "cnpj", "negocio", "negócio", "loja", "equipe", "funcionarios", "funcionários"}
	individualHints   = []string{"pessoa fisica", "pessoa física", "cpf", "pra mim mesmo", "para mim mesmo", "uso pessoal"}
)

// Extract scans the text once and returns any facts found. Fields the
// text does not mention stay empty; the session merge step guarantees
// empty values never erase known facts.
func (e *RegexExtractor) Extract(text string) session.Facts {
	facts := session.Facts{}
	lowered := strings.ToLower(text)

	if m := namePattern.FindStringSubmatch(text); m != nil {
		facts.Name = strings.TrimSpace(m[1])
	}

	if m := businessPattern.FindStringSubmatch(text); m != nil {
		facts.Business = strings.TrimSpace(m[1])
	}

	for _, hint := range individualHints {
		if strings.Contains(lowered, hint) {
			facts.PersonType = session.PersonIndividual
			break
		}
	}
	if facts.PersonType == session.PersonUnknown {
		for _, hint := range organizationHints {
			if strings.Contains(lowered, hint) {
				facts.PersonType = session.PersonOrganization
				break
			}
		}
	}
	// A named business implies an organization even without other hints.
	if facts.PersonType == session.PersonUnknown && facts.Business != "" {
		facts.PersonType = session.PersonOrganization
	}

	if m := emailPattern.FindString(text); m != "" {
		facts.Contact = m
	}

	return facts
}

var _ Extractor = (*RegexExtractor)(nil)
