package httptransport

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliamunaev/card-settlement/internal/model"
	"github.com/iliamunaev/card-settlement/internal/store"
)

// parseFilter builds a store.Filter from list query parameters:
// status (repeatable or comma separated), from, to (RFC 3339),
// min_amount, max_amount, cardholder, last4 and limit.
func parseFilter(q url.Values) (store.Filter, error) {
	var f store.Filter

	for _, raw := range q["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			s, err := model.ParseStatus(part)
			if err != nil {
				return store.Filter{}, err
			}
			f.Statuses = append(f.Statuses, s)
		}
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return store.Filter{}, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return store.Filter{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return store.Filter{}, errors.New("to must not be before from")
	}

	if f.MinAmount, err = parseAmount(q, "min_amount"); err != nil {
		return store.Filter{}, err
	}
	if f.MaxAmount, err = parseAmount(q, "max_amount"); err != nil {
		return store.Filter{}, err
	}

	f.CardholderContains = strings.TrimSpace(q.Get("cardholder"))

	if v := q.Get("last4"); v != "" {
		if len(v) != 4 || strings.Trim(v, "0123456789") != "" {
			return store.Filter{}, errors.New("last4 must be four digits")
		}
		f.CardLastFour = v
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return store.Filter{}, errors.New("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func parseAmount(q url.Values, key string) (decimal.NullDecimal, error) {
	v := q.Get(key)
	if v == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s must be a decimal amount", key)
	}
	return decimal.NewNullDecimal(d), nil
}
