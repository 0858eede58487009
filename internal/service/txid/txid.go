// Package txid generates transaction identifiers.
//
// An identifier has the form TXN-<unix millis>-<12 upper-case hex chars>.
// The millisecond prefix makes identifiers roughly sortable by creation time;
// the random suffix, taken from a version 4 UUID, keeps identifiers created
// in the same millisecond apart.
package txid

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	prefix     = "TXN-"
	randomHexN = 12
)

// Generator produces transaction identifiers. It is safe for concurrent use.
type Generator struct {
	now func() time.Time
}

// New returns a Generator. A nil now uses time.Now.
func New(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// NewID returns a fresh transaction identifier.
func (g *Generator) NewID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	var b strings.Builder
	b.Grow(len(prefix) + 13 + 1 + randomHexN)
	b.WriteString(prefix)
	b.WriteString(strconv.FormatInt(g.now().UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(strings.ToUpper(random[:randomHexN]))
	return b.String()
}

// Timestamp extracts the creation time embedded in id.
func Timestamp(id string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return time.Time{}, false
	}
	millis, random, ok := strings.Cut(rest, "-")
	if !ok || len(random) != randomHexN {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
