package clipboard

import (
	"os"
	"sync"
)

// EchoFlag suppresses the clipboard-change event caused by our own paste.
// It is a file so the state survives agent restarts mid-paste: presence of
// the file means "accept the next change", absence means "suppress it once".
type EchoFlag struct {
	mu   sync.Mutex
	path string
}

func NewEchoFlag(path string) (*EchoFlag, error) {
	f := &EchoFlag{path: path}
	if err := os.WriteFile(path, nil, 0o660); err != nil {
		return nil, err
	}
	return f, nil
}

// Suppress arms the flag before a paste: the next change event is ours.
func (f *EchoFlag) Suppress() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ShouldCapture reports whether the current change event is a real copy.
// A suppressed event re-arms the flag so only one event is swallowed.
func (f *EchoFlag) ShouldCapture() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.path); err == nil {
		return true
	}
	_ = os.WriteFile(f.path, nil, 0o660)
	return false
}
