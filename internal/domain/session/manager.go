package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/zapqual/engine/internal/infrastructure/statestore"
)

const (
	stateKeyPrefix    = "session:state:"
	askedKeyPrefix    = "session:asked:"
	answeredKeyPrefix = "session:answered:"
)

// Manager keeps the live session mirror in the state store and flushes
// authoritative snapshots to the durable repository at the end of each
// processing cycle.
type Manager struct {
	store statestore.Store
	repo  Repository
	log   zerolog.Logger
	now   func() time.Time
}

// NewManager constructs a session manager.
func NewManager(store statestore.Store, repo Repository, log zerolog.Logger) *Manager {
	return &Manager{
		store: store,
		repo:  repo,
		log:   log.With().Str("component", "session-manager").Logger(),
		now:   time.Now,
	}
}

// WithClock overrides the manager's clock. Test use only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// LoadOrCreate returns the session state, preferring the live mirror,
// falling back to the durable snapshot (re-priming the mirror), and
// finally creating a fresh Situation-stage session.
func (m *Manager) LoadOrCreate(ctx context.Context, sessionKey, orgID, contactAddress string) (*State, error) {
	state, err := m.loadMirror(ctx, sessionKey)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, statestore.ErrNotFound) {
		return nil, err
	}

	state, err = m.repo.GetByKey(ctx, sessionKey)
	if err == nil {
		if mirrorErr := m.SaveMirror(ctx, state); mirrorErr != nil {
			m.log.Warn().Err(mirrorErr).Str("session_key", sessionKey).Msg("failed to re-prime session mirror")
		}
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("load durable session: %w", err)
	}

	return NewState(sessionKey, orgID, contactAddress, m.now()), nil
}

// TouchInbound records the arrival timestamp of an accepted inbound
// message on the live mirror. The timestamp drives the stale-batch
// re-check at callback fire time.
func (m *Manager) TouchInbound(ctx context.Context, sessionKey string, at time.Time) error {
	return m.store.HSet(ctx, stateKeyPrefix+sessionKey, map[string]string{
		"last_inbound_at": at.UTC().Format(time.RFC3339Nano),
	})
}

// LastInboundAt reads the latest inbound timestamp from the mirror. A
// session with no recorded inbound yields the zero time.
func (m *Manager) LastInboundAt(ctx context.Context, sessionKey string) (time.Time, error) {
	fields, err := m.store.HGetAll(ctx, stateKeyPrefix+sessionKey)
	if err != nil {
		return time.Time{}, err
	}
	raw, ok := fields["last_inbound_at"]
	if !ok || raw == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last_inbound_at: %w", err)
	}
	return ts, nil
}

// SaveMirror writes the full state to the live mirror.
func (m *Manager) SaveMirror(ctx context.Context, state *State) error {
	fields := map[string]string{
		"org_id":          state.OrgID,
		"contact_address": state.ContactAddress,
		"stage":           string(state.Stage),
		"score":           strconv.Itoa(state.Score),
		"fact_name":       state.Facts.Name,
		"fact_person":     string(state.Facts.PersonType),
		"fact_business":   state.Facts.Business,
		"fact_contact":    state.Facts.Contact,
		"summary":         state.Summary,
		"created_at":      state.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":      state.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !state.LastInboundAt.IsZero() {
		fields["last_inbound_at"] = state.LastInboundAt.UTC().Format(time.RFC3339Nano)
	}
	if !state.LastStageAt.IsZero() {
		fields["last_stage_at"] = state.LastStageAt.UTC().Format(time.RFC3339Nano)
	}

	if err := m.store.HSet(ctx, stateKeyPrefix+state.SessionKey, fields); err != nil {
		return err
	}
	if err := m.store.SAdd(ctx, askedKeyPrefix+state.SessionKey, state.AskedTopics...); err != nil {
		return err
	}
	return m.store.SAdd(ctx, answeredKeyPrefix+state.SessionKey, state.AnsweredTopics...)
}

// Flush persists the state both to the live mirror and the durable
// snapshot. Called once per processed batch.
func (m *Manager) Flush(ctx context.Context, state *State) error {
	state.UpdatedAt = m.now()
	if err := m.SaveMirror(ctx, state); err != nil {
		return fmt.Errorf("save session mirror: %w", err)
	}
	if err := m.repo.Save(ctx, state); err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

func (m *Manager) loadMirror(ctx context.Context, sessionKey string) (*State, error) {
	fields, err := m.store.HGetAll(ctx, stateKeyPrefix+sessionKey)
	if err != nil {
		return nil, err
	}
	// A mirror primed only by TouchInbound has no stage yet and does not
	// count as a materialized session.
	if len(fields) == 0 || fields["stage"] == "" {
		return nil, statestore.ErrNotFound
	}

	state := &State{
		SessionKey:     sessionKey,
		OrgID:          fields["org_id"],
		ContactAddress: fields["contact_address"],
		Stage:          Stage(fields["stage"]),
		Summary:        fields["summary"],
		Facts: Facts{
			Name:       fields["fact_name"],
			PersonType: PersonType(fields["fact_person"]),
			Business:   fields["fact_business"],
			Contact:    fields["fact_contact"],
		},
	}
	if !state.Stage.Valid() {
		state.Stage = StageSituation
	}

	if raw := fields["score"]; raw != "" {
		if score, err := strconv.Atoi(raw); err == nil {
			state.Score = score
		}
	}
	state.LastInboundAt = parseTime(fields["last_inbound_at"])
	state.LastStageAt = parseTime(fields["last_stage_at"])
	state.CreatedAt = parseTime(fields["created_at"])
	state.UpdatedAt = parseTime(fields["updated_at"])

	if state.AskedTopics, err = m.store.SMembers(ctx, askedKeyPrefix+sessionKey); err != nil {
		return nil, err
	}
	if state.AnsweredTopics, err = m.store.SMembers(ctx, answeredKeyPrefix+sessionKey); err != nil {
		return nil, err
	}
	return state, nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
