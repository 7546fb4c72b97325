package order

import (
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// DefaultCodePrefix is prepended to every generated order code.
const DefaultCodePrefix = "DH"

// codeDigits is the fixed width of the seconds component. Ten digits cover
// every unix second until the year 2286, so codes never differ in length and
// no code can appear inside another.
const codeDigits = 10

// CodeGenerator produces order codes of the form <prefix><10 digits>.
// Codes are strictly increasing within a generator: a second request in the
// same second is issued the next free second instead. Under bursts the
// digits run ahead of the clock, so a code is an ordered identifier, not the
// creation timestamp; use Order.CreatedAt for that.
type CodeGenerator struct {
	prefix string

	mu   sync.Mutex
	last int64
}

// NewCodeGenerator returns a generator using the given prefix. The prefix
// must consist of uppercase ASCII letters and digits so it survives bank
// description normalization.
func NewCodeGenerator(prefix string) (*CodeGenerator, error) {
	if prefix == "" {
		prefix = DefaultCodePrefix
	}
	if !isCodeText(prefix) {
		return nil, errors.Errorf("invalid code prefix %q: only A-Z and 0-9 allowed", prefix)
	}
	return &CodeGenerator{prefix: prefix}, nil
}

// Next returns the code for now, advancing past any value already issued.
func (g *CodeGenerator) Next(now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	sec := now.Unix()
	if sec <= g.last {
		sec = g.last + 1
	}
	g.last = sec
	return g.format(sec)
}

func (g *CodeGenerator) format(sec int64) string {
	s := strconv.FormatInt(sec, 10)
	buf := make([]byte, 0, len(g.prefix)+codeDigits)
	buf = append(buf, g.prefix...)
	for i := len(s); i < codeDigits; i++ {
		buf = append(buf, '0')
	}
	return string(append(buf, s...))
}

func isCodeText(s string) bool {
	for i := range len(s) {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
