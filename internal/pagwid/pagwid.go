package pagwid

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PAGW request IDs have the fixed-width form PAGW-YYYYMMDD-NNNNN-RANDOM8.
// The rolling sequence is process-local; uniqueness comes from the random
// suffix, and the date block makes the receive day extractable without a
// lookup.

const DefaultPrefix = "PAGW"

var validRe = regexp.MustCompile(`^PAGW-\d{8}-\d{5}-[A-Z0-9]{8}$`)

var sequence atomic.Int64

// New generates a PAGW id for the current UTC day.
func New() string {
	return NewWithPrefix(DefaultPrefix)
}

// NewWithPrefix generates an id with a custom prefix (sandbox tenants, load
// tests). Only DefaultPrefix ids pass IsValid.
func NewWithPrefix(prefix string) string {
	date := time.Now().UTC().Format("20060102")
	seq := sequence.Add(1) % 100000
	random := strings.ToUpper(uuid.NewString()[:8])
	return fmt.Sprintf("%s-%s-%05d-%s", prefix, date, seq, random)
}

// IsValid reports whether id matches the canonical PAGW format.
func IsValid(id string) bool {
	return validRe.MatchString(id)
}

// ExtractDate returns the YYYYMMDD block from a valid id.
func ExtractDate(id string) (string, error) {
	if !IsValid(id) {
		return "", fmt.Errorf("invalid PAGW id: %s", id)
	}
	return id[5:13], nil
}
