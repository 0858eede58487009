// Package gateway simulates a card payment gateway.
//
// Authorize is a decision policy, not a network call. Test-card suffixes are
// honoured first, then randomized faults and declines are drawn from an
// injected source, so a fixed seed reproduces a run exactly. The simulated
// latency respects context cancellation.
package gateway

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/service/pool"
	"github.com/iliamunaev/card-settlement/internal/service/shared"
)

// Result is the kind of answer the gateway gives.
type Result int

const (
	Approved Result = iota
	Declined
	TransientError
)

func (r Result) String() string {
	switch r {
	case Approved:
		return "approved"
	case Declined:
		return "declined"
	case TransientError:
		return "transient_error"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Decline and fault reasons.
const (
	ReasonTestCardDecline   = "test card always declined"
	ReasonNetworkTimeout    = "network timeout"
	ReasonHighAmountRisk    = "high-value transaction declined by risk check"
	ReasonBankDeclined      = "declined by issuing bank"
	ReasonInsufficientFunds = "insufficient funds"
)

// Decision is the gateway's answer for one charge.
type Decision struct {
	Result Result
	Reason string // empty for Approved
}

// Err returns nil for an approval and a classified error otherwise.
func (d Decision) Err() error {
	switch d.Result {
	case Approved:
		return nil
	case Declined:
		return fmt.Errorf("%s: %w", d.Reason, apperr.ErrDeclined)
	default:
		return fmt.Errorf("%s: %w", d.Reason, apperr.ErrGatewayUnavailable)
	}
}

// Charge is a validated payment submitted for authorization.
// CardNumber holds the normalized digits and must not be logged.
type Charge struct {
	TransactionID string
	CardNumber    string
	Amount        decimal.Decimal
}

// Simulator authorizes charges according to a Policy.
// It is safe for concurrent use.
type Simulator struct {
	policy Policy
	slots  *pool.Pool

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRand returns a PCG-backed source for seed. A zero seed is replaced by
// the current time.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// New creates a Simulator. rng defaults to a time-seeded source and slots,
// which bounds concurrent authorizations, defaults to a single-slot pool.
func New(policy Policy, rng *rand.Rand, slots *pool.Pool) *Simulator {
	if rng == nil {
		rng = NewRand(0)
	}
	if slots == nil {
		slots = pool.New(1)
	}
	return &Simulator{
		policy: policy,
		slots:  slots,
		rng:    rng,
	}
}

// Policy returns the active policy.
func (s *Simulator) Policy() Policy { return s.policy }

// Authorize submits c to the simulated gateway.
//
// It waits for a free gateway slot and the simulated latency; if ctx ends
// first it returns ctx.Err() and no decision. Otherwise the returned error
// is nil and the decision carries the outcome.
func (s *Simulator) Authorize(ctx context.Context, c Charge) (Decision, error) {
	if err := s.slots.Acquire(ctx); err != nil {
		return Decision{}, err
	}
	defer s.slots.Release()

	delay := shared.DelayBetween(s.policy.MinDelay, s.policy.MaxDelay, s.draw())
	if err := shared.SleepOrDone(ctx, delay); err != nil {
		return Decision{}, err
	}
	return s.Decide(c), nil
}

// Decide applies the policy to c without any latency. The first matching
// rule wins:
//
//  1. decline test suffix
//  2. approve test suffix
//  3. transient fault
//  4. amount-tiered declines
//  5. approval
func (s *Simulator) Decide(c Charge) Decision {
	p := s.policy

	if p.DeclineSuffix != "" && strings.HasSuffix(c.CardNumber, p.DeclineSuffix) {
		return Decision{Result: Declined, Reason: ReasonTestCardDecline}
	}
	if p.ApproveSuffix != "" && strings.HasSuffix(c.CardNumber, p.ApproveSuffix) {
		return Decision{Result: Approved}
	}

	if s.chance(p.TransientErrorRate) {
		return Decision{Result: TransientError, Reason: ReasonNetworkTimeout}
	}

	if c.Amount.GreaterThan(p.HighAmountThreshold) && s.chance(p.HighAmountDeclineRate) {
		return Decision{Result: Declined, Reason: ReasonHighAmountRisk}
	}
	if s.chance(p.BankDeclineRate) {
		return Decision{Result: Declined, Reason: ReasonBankDeclined}
	}
	if c.Amount.GreaterThan(p.InsufficientFundsThreshold) && s.chance(p.InsufficientFundsRate) {
		return Decision{Result: Declined, Reason: ReasonInsufficientFunds}
	}

	return Decision{Result: Approved}
}

// chance reports true with probability rate. Rates of 0 and 1 never draw,
// so deterministic policies do not advance the source.
func (s *Simulator) chance(rate float64) bool {
	switch {
	case rate <= 0:
		return false
	case rate >= 1:
		return true
	default:
		return s.draw() < rate
	}
}

func (s *Simulator) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}
