package service

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// TicketCodePrefix tags every code handed out
const TicketCodePrefix = "SKR"

const base36Digits = "0123456789abcdefghijklmnopqrstuvwxyz"

// CodeGenerator builds "SKR-<base36 epoch millis>-<4 random base36>" codes,
// uppercased. Uniqueness is probabilistic; the tickets_ticket_code_key
// constraint is the real guard.
type CodeGenerator struct {
	now  func() time.Time
	intn func(n int) int
}

func NewCodeGenerator(now func() time.Time, intn func(n int) int) *CodeGenerator {
	if now == nil {
		now = time.Now
	}
	if intn == nil {
		intn = rand.IntN
	}
	return &CodeGenerator{now: now, intn: intn}
}

func (g *CodeGenerator) Next() string {
	var suffix [4]byte
	for i := range suffix {
		suffix[i] = base36Digits[g.intn(len(base36Digits))]
	}
	stamp := strconv.FormatInt(g.now().UnixMilli(), 36)
	return strings.ToUpper(TicketCodePrefix + "-" + stamp + "-" + string(suffix[:]))
}

// CodeTimestamp recovers the issue time encoded in a code
func CodeTimestamp(code string) (time.Time, bool) {
	parts := strings.Split(code, "-")
	if len(parts) != 3 || parts[0] != TicketCodePrefix {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(strings.ToLower(parts[1]), 36, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
