package life

import (
	"strings"

	"github.com/pkg/errors"
)

// Rule holds survival counts in bits 0-8 and birth counts in bits 9-17.
type Rule uint32

// Conway is the classic "23/3" rule.
const Conway Rule = 1<<2 | 1<<3 | 1<<(3+9)

// ParseRule reads "S/B" notation, e.g. "23/3": digits before the slash are
// neighbour counts a live cell survives with, digits after it the counts a
// dead cell is born with.
func ParseRule(s string) (Rule, error) {
	survive, birth, ok := strings.Cut(s, "/")
	if !ok {
		return 0, errors.Errorf("life: rule %q is not in S/B form", s)
	}
	var r Rule
	for i, part := range []string{survive, birth} {
		for _, c := range part {
			if c < '0' || c > '8' {
				return 0, errors.Errorf("life: rule %q has invalid count %q", s, c)
			}
			r |= 1 << (uint(c-'0') + uint(i*9))
		}
	}
	return r, nil
}

// Next returns the next state of a cell with n live neighbours.
func (r Rule) Next(alive bool, n int) bool {
	if alive {
		return r&(1<<n) != 0
	}
	return r&(1<<(n+9)) != 0
}

func (r Rule) String() string {
	var b strings.Builder
	for i := 0; i < 18; i++ {
		if i == 9 {
			b.WriteByte('/')
		}
		if r&(1<<i) != 0 {
			b.WriteByte(byte('0' + i%9))
		}
	}
	return b.String()
}
