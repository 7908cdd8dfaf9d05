package scan

// Guard suppresses consecutive duplicate tag codes. A tag held in front of
// the reader produces the same code over and over; only the first one is
// let through until a different code is seen. There is no time-based
// expiry.
type Guard struct {
	last   string
	maxLen int
}

// NewGuard creates a Guard comparing at most maxLen characters of each code.
// maxLen <= 0 compares whole codes.
func NewGuard(maxLen int) *Guard {
	return &Guard{maxLen: maxLen}
}

// Duplicate reports whether code repeats the previous code. When it does
// not, code becomes the new previous code.
func (g *Guard) Duplicate(code string) bool {
	code = g.clip(code)
	if code == g.last {
		return true
	}
	g.last = code
	return false
}

// Last returns the most recently recorded code.
func (g *Guard) Last() string {
	return g.last
}

func (g *Guard) clip(code string) string {
	if g.maxLen > 0 && len(code) > g.maxLen {
		return code[:g.maxLen]
	}
	return code
}
