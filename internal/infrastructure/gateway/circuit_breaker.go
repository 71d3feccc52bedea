package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig defines circuit breaker behavior for gateway sends.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when sends are being rejected fast.
var ErrCircuitOpen = fmt.Errorf("gateway circuit breaker is open")

// BreakerSender decorates a Sender with fail-fast behavior when the send
// API is down. A rejected send is still a DispatchFailure from the
// batch's point of view; the generated text stays persisted for a later
// delivery retry.
type BreakerSender struct {
	next Sender
	cfg  BreakerConfig
	log  zerolog.Logger

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewBreakerSender wraps a sender with a circuit breaker.
func NewBreakerSender(next Sender, cfg BreakerConfig, log zerolog.Logger) *BreakerSender {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &BreakerSender{
		next:  next,
		cfg:   cfg,
		log:   log.With().Str("component", "gateway-breaker").Logger(),
		state: StateClosed,
	}
}

func (b *BreakerSender) Send(ctx context.Context, to, text string) (*SendResult, error) {
	if !b.allow() {
		return nil, ErrCircuitOpen
	}

	result, err := b.next.Send(ctx, to, text)
	b.record(err)
	return result, err
}

func (b *BreakerSender) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailureTime) >= b.cfg.Timeout {
			b.state = StateHalfOpen
			b.successes = 0
			b.log.Info().Msg("gateway circuit half-open, probing")
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return true
	}
}

func (b *BreakerSender) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailureTime = time.Now()
		if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
			if b.state != StateOpen {
				b.log.Warn().Int("failures", b.failures).Msg("gateway circuit opened")
			}
			b.state = StateOpen
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.log.Info().Msg("gateway circuit closed")
		}
	case StateClosed:
		b.failures = 0
	}
}

var _ Sender = (*BreakerSender)(nil)
