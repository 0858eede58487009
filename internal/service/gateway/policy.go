package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Policy holds the constants of the simulated authorization policy.
// Rates are probabilities in [0, 1]; setting a rate to 0 or 1 makes the
// corresponding branch deterministic.
type Policy struct {
	// DeclineSuffix and ApproveSuffix mark test cards whose outcome never
	// depends on chance. Decline wins when both match.
	DeclineSuffix string
	ApproveSuffix string

	// TransientErrorRate is the chance of a simulated network fault,
	// independent of the amount.
	TransientErrorRate float64

	HighAmountThreshold   decimal.Decimal
	HighAmountDeclineRate float64

	// BankDeclineRate is the chance of a generic issuer decline.
	BankDeclineRate float64

	InsufficientFundsThreshold decimal.Decimal
	InsufficientFundsRate      float64

	// MinDelay and MaxDelay bound the simulated network latency.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultPolicy returns the policy the service ships with.
func DefaultPolicy() Policy {
	return Policy{
		DeclineSuffix:              "0000",
		ApproveSuffix:              "1111",
		TransientErrorRate:         0.05,
		HighAmountThreshold:        decimal.NewFromInt(1000),
		HighAmountDeclineRate:      0.30,
		BankDeclineRate:            0.15,
		InsufficientFundsThreshold: decimal.NewFromInt(500),
		InsufficientFundsRate:      0.20,
		MinDelay:                   1 * time.Second,
		MaxDelay:                   3 * time.Second,
	}
}

// Validate reports policy values that cannot be simulated.
func (p Policy) Validate() error {
	var errs []error
	rates := []struct {
		name string
		v    float64
	}{
		{"transient error rate", p.TransientErrorRate},
		{"high amount decline rate", p.HighAmountDeclineRate},
		{"bank decline rate", p.BankDeclineRate},
		{"insufficient funds rate", p.InsufficientFundsRate},
	}
	for _, r := range rates {
		if r.v < 0 || r.v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", r.name, r.v))
		}
	}
	if p.MinDelay < 0 || p.MaxDelay < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if p.MaxDelay < p.MinDelay {
		errs = append(errs, fmt.Errorf("max delay %v is below min delay %v", p.MaxDelay, p.MinDelay))
	}
	if p.DeclineSuffix != "" && p.DeclineSuffix == p.ApproveSuffix {
		errs = append(errs, errors.New("decline and approve suffixes must differ"))
	}
	return errors.Join(errs...)
}
