//go:build !unix

package term

// DefaultTerminator returns a terminator that only kills the direct child;
// descendants it spawned may survive.
func DefaultTerminator() Terminator {
	return directKill{}
}
