// Package button delivers record-button presses to a callback.
package button

// Manager watches a trigger and calls back once per press.
type Manager interface {
	// Register sets the press callback and starts watching. The callback
	// runs on the manager's own goroutine and must return quickly.
	Register(callback func()) error
	Close() error
}
