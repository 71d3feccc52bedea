// Package session holds the per-conversation qualification state: the
// current SPIN stage, the accumulated fact map, asked/answered topic sets
// and the engagement score. One session exists per contact per
// organization.
package session

import (
	"time"
)

// Stage is one of the four SPIN qualification stages. Stages only ever
// advance in the fixed order S -> P -> I -> N; they never regress.
type Stage string

const (
	StageSituation   Stage = "S"
	StageProblem     Stage = "P"
	StageImplication Stage = "I"
	StageNeed        Stage = "N"
)

var stageOrder = map[Stage]int{
	StageSituation:   0,
	StageProblem:     1,
	StageImplication: 2,
	StageNeed:        3,
}

// Rank returns the position of the stage in the SPIN order, or -1 for an
// unknown value.
func (s Stage) Rank() int {
	rank, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return rank
}

// Next returns the following stage. The terminal stage returns itself.
func (s Stage) Next() Stage {
	switch s {
	case StageSituation:
		return StageProblem
	case StageProblem:
		return StageImplication
	case StageImplication:
		return StageNeed
	default:
		return StageNeed
	}
}

// Valid reports whether the value is one of the four stages.
func (s Stage) Valid() bool {
	return s.Rank() >= 0
}

// PersonType distinguishes individual contacts from organizations.
type PersonType string

const (
	PersonUnknown      PersonType = ""
	PersonIndividual   PersonType = "PF"
	PersonOrganization PersonType = "PJ"
)

// Facts is the structured subset of conversation content extracted and
// persisted across turns. All fields are optional until collected.
type Facts struct {
	Name       string     `json:"name,omitempty"`
	PersonType PersonType `json:"person_type,omitempty"`
	Business   string     `json:"business,omitempty"`
	Contact    string     `json:"contact,omitempty"`
}

// Merge folds newly extracted facts into the map. A previously known fact
// is never overwritten with empty data.
func (f *Facts) Merge(extracted Facts) {
	if f.Name == "" && extracted.Name != "" {
		f.Name = extracted.Name
	}
	if f.PersonType == PersonUnknown && extracted.PersonType != PersonUnknown {
		f.PersonType = extracted.PersonType
	}
	if f.Business == "" && extracted.Business != "" {
		f.Business = extracted.Business
	}
	if f.Contact == "" && extracted.Contact != "" {
		f.Contact = extracted.Contact
	}
}

// State is the full per-conversation session record. The live copy lives
// in the state store; an authoritative snapshot is flushed to the durable
// store at the end of each processing cycle.
type State struct {
	SessionKey     string    `json:"session_key"`
	OrgID          string    `json:"org_id"`
	ContactAddress string    `json:"contact_address"`
	Stage          Stage     `json:"stage"`
	Facts          Facts     `json:"facts"`
	AskedTopics    []string  `json:"asked_topics,omitempty"`
	AnsweredTopics []string  `json:"answered_topics,omitempty"`
	Score          int       `json:"score"`
	Summary        string    `json:"summary,omitempty"`
	LastInboundAt  time.Time `json:"last_inbound_at"`
	LastStageAt    time.Time `json:"last_stage_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewState returns a fresh session in the initial Situation stage.
func NewState(sessionKey, orgID, contactAddress string, now time.Time) *State {
	return &State{
		SessionKey:     sessionKey,
		OrgID:          orgID,
		ContactAddress: contactAddress,
		Stage:          StageSituation,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Key builds the stable session key for one contact within one
// organization.
func Key(orgID, contactAddress string) string {
	return orgID + ":" + contactAddress
}

// AdvanceStage moves the session forward one stage, guarding against
// regression. Returns true when the stage actually changed.
func (s *State) AdvanceStage(to Stage, now time.Time) bool {
	if to.Rank() <= s.Stage.Rank() {
		return false
	}
	s.Stage = s.Stage.Next()
	s.LastStageAt = now
	return true
}

// AddTopics appends new topic identifiers, deduplicating against the
// existing slices.
func (s *State) AddTopics(asked, answered []string) {
	s.AskedTopics = appendUnique(s.AskedTopics, asked)
	s.AnsweredTopics = appendUnique(s.AnsweredTopics, answered)
}

func appendUnique(existing []string, add []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		seen[v] = struct{}{}
	}
	for _, v := range add {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		existing = append(existing, v)
	}
	return existing
}

// HasRequiredFacts reports whether the gating requirement for leaving the
// Situation stage is met: a non-empty name, a determined person type and,
// for organizations, a business name.
func (s *State) HasRequiredFacts() bool {
	if s.Facts.Name == "" || s.Facts.PersonType == PersonUnknown {
		return false
	}
	if s.Facts.PersonType == PersonOrganization && s.Facts.Business == "" {
		return false
	}
	return true
}
