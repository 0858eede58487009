// Package validator checks payment requests before anything is persisted.
//
// Checks run in a fixed order and the first failure wins, so a given
// malformed request always produces the same error. The package is pure: it
// keeps no state beyond the injected clock and never logs.
package validator

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/apperr"
	"github.com/iliamunaev/card-settlement/internal/model"
)

var (
	cardholderPattern = regexp.MustCompile(`^[A-Za-z\s]+$`)
	cardNumberPattern = regexp.MustCompile(`^[0-9]{13,19}$`)
	expiryPattern     = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2})$`)
	cvvPattern        = regexp.MustCompile(`^[0-9]{3,4}$`)
	cardSeparators    = regexp.MustCompile(`[\s\v-]`)
)

// MaxAmount is the largest amount a single payment may carry.
var MaxAmount = decimal.RequireFromString("999999.99")

// Validator validates payment requests against the current date.
type Validator struct {
	now func() time.Time
}

// New returns a Validator. A nil now uses time.Now.
func New(now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{now: now}
}

// Validate returns nil when req is well-formed and internally consistent,
// or an apperr.ValidationError describing the first failed check.
func (v *Validator) Validate(req model.PaymentRequest) error {
	checks := []func() error{
		func() error { return checkCardholder(req.CardholderName) },
		func() error { return checkCardNumber(req.CardNumber) },
		func() error { return checkExpiry(req.ExpiryDate, v.now()) },
		func() error { return checkCVV(req.CVV) },
		func() error { return checkAmount(req.Amount) },
		func() error { return checkOrderItems(req.OrderItems, req.Amount.Decimal) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

func invalid(field, reason string) error {
	return apperr.ValidationError{Field: field, Reason: reason}
}

func checkCardholder(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return invalid("cardholder_name", "Cardholder name is required")
	}
	if len(trimmed) < 2 {
		return invalid("cardholder_name", "Cardholder name must be at least 2 characters")
	}
	if !cardholderPattern.MatchString(name) {
		return invalid("cardholder_name", "Cardholder name can only contain letters and spaces")
	}
	return nil
}

// NormalizeCardNumber strips whitespace and dashes from a card number.
func NormalizeCardNumber(number string) string {
	return cardSeparators.ReplaceAllString(number, "")
}

func checkCardNumber(number string) error {
	if strings.TrimSpace(number) == "" {
		return invalid("card_number", "Card number is required")
	}
	digits := NormalizeCardNumber(number)
	if !cardNumberPattern.MatchString(digits) {
		return invalid("card_number", "Card number must be 13-19 digits")
	}
	if !Luhn(digits) {
		return invalid("card_number", "Invalid card number")
	}
	return nil
}

// Luhn reports whether digits passes the Luhn checksum.
//
// Scanning right to left, every second digit is doubled (9 subtracted when
// the result exceeds 9) and all digits are summed; the total must be a
// multiple of 10. Non-digit input is rejected.
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		n := int(c - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

func checkExpiry(expiry string, now time.Time) error {
	if strings.TrimSpace(expiry) == "" {
		return invalid("expiry_date", "Expiry date is required")
	}
	m := expiryPattern.FindStringSubmatch(expiry)
	if m == nil {
		return invalid("expiry_date", "Expiry date must be in MM/YY format")
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])

	if ExpiresBefore(2000+year, time.Month(month), now) {
		return invalid("expiry_date", "Card has expired")
	}
	return nil
}

// ExpiresBefore reports whether the last calendar day of year/month is
// strictly before the calendar day of now.
func ExpiresBefore(year int, month time.Month, now time.Time) bool {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	// Day 0 of the following month normalizes to the last day of month.
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, loc)
	return lastDay.Before(today)
}

func checkCVV(cvv string) error {
	if strings.TrimSpace(cvv) == "" {
		return invalid("cvv", "CVV is required")
	}
	if !cvvPattern.MatchString(cvv) {
		return invalid("cvv", "CVV must be 3-4 digits")
	}
	return nil
}

func checkAmount(amount decimal.NullDecimal) error {
	if !amount.Valid {
		return invalid("amount", "Amount is required")
	}
	if !amount.Decimal.IsPositive() {
		return invalid("amount", "Amount must be greater than 0")
	}
	if amount.Decimal.GreaterThan(MaxAmount) {
		return invalid("amount", "Amount cannot exceed 999,999.99")
	}
	return nil
}

func checkOrderItems(items []model.OrderItem, amount decimal.Decimal) error {
	if len(items) == 0 {
		return invalid("order_items", "Order items are required")
	}
	for _, it := range items {
		if strings.TrimSpace(it.ProductName) == "" {
			return invalid("order_items", "Product name is required for all items")
		}
		if it.Quantity < 1 {
			return invalid("order_items", "Quantity must be greater than 0 for all items")
		}
		if !it.Price.IsPositive() {
			return invalid("order_items", "Price must be greater than 0 for all items")
		}
	}
	if !model.ItemsTotal(items).Equal(amount) {
		return invalid("order_items", "Total amount does not match order items total")
	}
	return nil
}
