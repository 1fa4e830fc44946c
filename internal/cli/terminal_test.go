package cli

import (
	"os"
	"testing"
)

type fakeTerminalDetector struct {
	result bool
	calls  []int
}

func (f *fakeTerminalDetector) IsTerminal(fd int) bool {
	f.calls = append(f.calls, fd)
	return f.result
}

func TestDefaultDetectorOnPipe(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	detector := &DefaultTerminalDetector{}
	if detector.IsTerminal(int(r.Fd())) {
		t.Error("pipe should not be detected as a terminal")
	}
}

func TestIsInteractiveTerminalUsesInjectedDetector(t *testing.T) {
	fake := &fakeTerminalDetector{result: true}
	cli := &CLI{terminalDetector: fake}

	if !cli.isInteractiveTerminal(42) {
		t.Error("expected injected detector result")
	}
	if len(fake.calls) != 1 || fake.calls[0] != 42 {
		t.Errorf("detector calls = %v, want [42]", fake.calls)
	}
}

func TestIsInteractiveTerminalLazyDefault(t *testing.T) {
	cli := &CLI{}
	// Must not panic with no detector injected; fd 0 result depends on
	// the test environment, only the lazy init is under test
	cli.isInteractiveTerminal(0)
	if cli.terminalDetector == nil {
		t.Error("expected default detector to be created")
	}
}
