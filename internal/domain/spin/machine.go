// Package spin implements the gated four-stage qualification state
// machine (Situation, Problem, Implication, Need) and its scoring.
package spin

import (
	"time"

	"github.com/zapqual/engine/internal/domain/session"
)

// ScoreConfig tunes the additive qualification score. The shape of the
// contract is fixed (monotonic, bounded, stage-weighted); the constants
// are configuration.
type ScoreConfig struct {
	// StagePoints is added once per stage reached beyond Situation.
	StagePoints int
	// EngagementPoints is added per inbound message in a batch, capped
	// at EngagementCap messages per batch.
	EngagementPoints int
	EngagementCap    int
	// TransitionPoints is added when a stage transition happens within
	// RecentWindow of the previous one.
	TransitionPoints int
	RecentWindow     time.Duration
	// QualifiedAt is the score threshold of the Qualified predicate.
	QualifiedAt int
	// Max bounds the score.
	Max int
}

// DefaultScoreConfig returns the recommended constants.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		StagePoints:      10,
		EngagementPoints: 2,
		EngagementCap:    3,
		TransitionPoints: 5,
		RecentWindow:     24 * time.Hour,
		QualifiedAt:      70,
		Max:              100,
	}
}

// Result summarizes what one processed batch did to the session.
type Result struct {
	StageChanged   bool
	FromStage      session.Stage
	ToStage        session.Stage
	MatchedTopics  []string
	ExtractedFacts session.Facts
}

// Machine applies fact extraction, gating, stage transitions and scoring
// to a session for one batch of inbound text.
type Machine struct {
	classifier Classifier
	extractor  Extractor
	score      ScoreConfig
}

// NewMachine wires a state machine with its pluggable text components.
func NewMachine(classifier Classifier, extractor Extractor, score ScoreConfig) *Machine {
	if score.Max <= 0 {
		score = DefaultScoreConfig()
	}
	return &Machine{
		classifier: classifier,
		extractor:  extractor,
		score:      score,
	}
}

// Process runs one batch of inbound texts (in arrival order) against the
// session state. It mutates the state in place: facts merge, stage
// advances at most one step, topics accumulate and the score only ever
// grows.
//
// Advancement out of Situation is gated: until the fact map holds a name,
// a determined person type and (for organizations) a business name, the
// stage stays at Situation regardless of message content.
func (m *Machine) Process(state *session.State, texts []string, now time.Time) Result {
	result := Result{FromStage: state.Stage, ToStage: state.Stage}

	for _, text := range texts {
		extracted := m.extractor.Extract(text)
		result.ExtractedFacts = extracted
		state.Facts.Merge(extracted)
	}

	combined := joinTexts(texts)
	signal := m.classifier.Classify(combined)
	result.MatchedTopics = signal.MatchedTopics
	state.AddTopics(nil, signal.MatchedTopics)

	previousStageAt := state.LastStageAt

	switch state.Stage {
	case session.StageSituation:
		if state.HasRequiredFacts() && signal.Stage.Rank() > session.StageSituation.Rank() {
			result.StageChanged = state.AdvanceStage(state.Stage.Next(), now)
		}
	case session.StageNeed:
		// Terminal: no automatic advancement, scoring continues.
	default:
		if signal.Stage.Rank() > state.Stage.Rank() {
			result.StageChanged = state.AdvanceStage(state.Stage.Next(), now)
		}
	}
	result.ToStage = state.Stage

	m.updateScore(state, len(texts), result.StageChanged, previousStageAt, now)

	return result
}

func (m *Machine) updateScore(state *session.State, messageCount int, transitioned bool, previousStageAt time.Time, now time.Time) {
	score := state.Score

	if transitioned {
		score += m.score.StagePoints
		if !previousStageAt.IsZero() && now.Sub(previousStageAt) <= m.score.RecentWindow {
			score += m.score.TransitionPoints
		}
	}

	engaged := messageCount
	if m.score.EngagementCap > 0 && engaged > m.score.EngagementCap {
		engaged = m.score.EngagementCap
	}
	score += engaged * m.score.EngagementPoints

	if score > m.score.Max {
		score = m.score.Max
	}
	// Monotonic: additions only, but guard anyway.
	if score > state.Score {
		state.Score = score
	}
}

// Qualified is the derived predicate: the session reached the terminal
// stage and accumulated enough score.
func (m *Machine) Qualified(state *session.State) bool {
	return state.Score >= m.score.QualifiedAt && state.Stage == session.StageNeed
}

func joinTexts(texts []string) string {
	switch len(texts) {
	case 0:
		return ""
	case 1:
		return texts[0]
	}
	total := 0
	for _, t := range texts {
		total += len(t) + 1
	}
	out := make([]byte, 0, total)
	for i, t := range texts {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, t...)
	}
	return string(out)
}
