package session

import "strings"

// Guard refuses commands containing any blocked fragment,
// case-insensitively.
type Guard struct {
	patterns []string
}

// NewGuard returns a guard for the given fragments. Blank entries are
// ignored.
func NewGuard(patterns []string) *Guard {
	g := &Guard{}
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			g.patterns = append(g.patterns, p)
		}
	}
	return g
}

// Blocked returns the first fragment found in command.
func (g *Guard) Blocked(command string) (string, bool) {
	if g == nil {
		return "", false
	}
	lower := strings.ToLower(command)
	for _, p := range g.patterns {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}
