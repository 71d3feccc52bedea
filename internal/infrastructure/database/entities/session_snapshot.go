package entities

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/zapqual/engine/internal/domain/session"
)

// SessionSnapshot is the authoritative durable copy of a session's
// state. The live mirror in the state store is flushed here at the end
// of each processing cycle.
type SessionSnapshot struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	SessionKey     string         `gorm:"type:varchar(160);uniqueIndex;not null"`
	OrgID          string         `gorm:"type:varchar(64);index;not null"`
	ContactAddress string         `gorm:"type:varchar(64);not null"`
	Stage          string         `gorm:"type:varchar(2);not null;default:'S'"`
	Score          int            `gorm:"not null;default:0"`
	Facts          datatypes.JSON `gorm:"type:jsonb"`
	AskedTopics    datatypes.JSON `gorm:"type:jsonb"`
	AnsweredTopics datatypes.JSON `gorm:"type:jsonb"`
	Summary        string         `gorm:"type:text"`
	LastInboundAt  *time.Time
	LastStageAt    *time.Time
}

// TableName implements the GORM tabler interface.
func (SessionSnapshot) TableName() string { return "session_snapshots" }

// EtoD converts the database entity to the domain model.
func (s *SessionSnapshot) EtoD() (*session.State, error) {
	state := &session.State{
		SessionKey:     s.SessionKey,
		OrgID:          s.OrgID,
		ContactAddress: s.ContactAddress,
		Stage:          session.Stage(s.Stage),
		Score:          s.Score,
		Summary:        s.Summary,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if !state.Stage.Valid() {
		state.Stage = session.StageSituation
	}
	if s.LastInboundAt != nil {
		state.LastInboundAt = *s.LastInboundAt
	}
	if s.LastStageAt != nil {
		state.LastStageAt = *s.LastStageAt
	}

	if len(s.Facts) > 0 {
		if err := json.Unmarshal(s.Facts, &state.Facts); err != nil {
			return nil, err
		}
	}
	if len(s.AskedTopics) > 0 {
		if err := json.Unmarshal(s.AskedTopics, &state.AskedTopics); err != nil {
			return nil, err
		}
	}
	if len(s.AnsweredTopics) > 0 {
		if err := json.Unmarshal(s.AnsweredTopics, &state.AnsweredTopics); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// NewSchemaSessionSnapshot creates a database entity from the domain
// model.
func NewSchemaSessionSnapshot(state *session.State) (*SessionSnapshot, error) {
	facts, err := marshalJSON(state.Facts)
	if err != nil {
		return nil, err
	}
	asked, err := marshalJSON(state.AskedTopics)
	if err != nil {
		return nil, err
	}
	answered, err := marshalJSON(state.AnsweredTopics)
	if err != nil {
		return nil, err
	}

	snapshot := &SessionSnapshot{
		SessionKey:     state.SessionKey,
		OrgID:          state.OrgID,
		ContactAddress: state.ContactAddress,
		Stage:          string(state.Stage),
		Score:          state.Score,
		Facts:          facts,
		AskedTopics:    asked,
		AnsweredTopics: answered,
		Summary:        state.Summary,
	}
	if !state.LastInboundAt.IsZero() {
		t := state.LastInboundAt
		snapshot.LastInboundAt = &t
	}
	if !state.LastStageAt.IsZero() {
		t := state.LastStageAt
		snapshot.LastStageAt = &t
	}
	return snapshot, nil
}

func marshalJSON(value interface{}) (datatypes.JSON, error) {
	if value == nil {
		return datatypes.JSON([]byte("null")), nil
	}
	bytes, err := json.Marshal(value)
	return datatypes.JSON(bytes), err
}
