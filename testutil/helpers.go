package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// SkipIfNoDevice skips test if no card channel is present
func SkipIfNoDevice(t *testing.T) string {
	t.Helper()

	devices := driver.ScanDevices(driver.DefaultDevRoot)
	if len(devices) == 0 {
		t.Skip("No VK card available")
	}
	return devices[0]
}

// FakeDevRoot creates a directory holding empty device nodes with the
// given names, for path resolution tests
func FakeDevRoot(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0644); err != nil {
			t.Fatalf("failed to create fake device node: %v", err)
		}
	}
	return root
}

// MakePattern creates deterministic test data
func MakePattern(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*17 + 11) % 256)
	}
	return data
}

// AssertEqual fails if values are not equal
func AssertEqual(t *testing.T, got, want interface{}, msg string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", msg, got, want)
	}
}

// AssertNoError fails if error is not nil
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", msg, err)
	}
}

// AssertError fails if error is nil
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected error, got nil", msg)
	}
}

// AssertStatus fails unless err carries the given status
func AssertStatus(t *testing.T, err error, want driver.Status, msg string) {
	t.Helper()
	if err == nil {
		t.Errorf("%s: expected %s, got nil", msg, want)
		return
	}
	if !errors.Is(err, &driver.VkError{Status: want}) {
		t.Errorf("%s: expected %s, got %v", msg, want, err)
	}
}
