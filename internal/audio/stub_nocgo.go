//go:build !cgo

package audio

import "errors"

var errCGORequired = errors.New(`Sonix requires CGO support for audio playback.

This error occurs when trying to play audio with sonix built without CGO
enabled. Decoding still works; only the play command needs CGO.

To fix this issue:
1. Ensure CGO_ENABLED=1 (this is the default for native builds)
2. Install a C compiler:
   - Linux: sudo apt-get install build-essential
   - macOS: xcode-select --install
   - Windows: Install MinGW or Visual Studio Build Tools
3. Then run: go install sonix.click/cmd/sonix

For more information, see: https://pkg.go.dev/cmd/cgo`)

// NewBackend reports playback as unavailable without CGO.
func NewBackend() (AudioBackend, error) {
	return nil, errCGORequired
}
