// Package session assigns the calling process to a card and resolves the
// channel path used to reach it.
package session

import (
	"fmt"
	"os"

	"github.com/emergingrobotics/go-vkil/pkg/config"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

// Session is the card assignment of one process
type Session struct {
	PID        int
	ID         int
	CardID     int
	DevicePath string
}

// Resolver assigns the calling process to a card
type Resolver interface {
	Resolve() (*Session, error)
}

// ResolveDevicePath returns the channel path for card idx. The current
// node name is tried first, then the legacy one.
func ResolveDevicePath(cfg *config.Config, idx int) (string, error) {
	for _, name := range []string{cfg.Device.Name, cfg.Device.LegacyName} {
		path := driver.DevicePath(cfg.Device.DevRoot, name, idx)
		if exists(path) {
			return path, nil
		}
	}
	return "", driver.NewError(driver.StatusNoSuchDevice, fmt.Sprintf("card %d under %s", idx, cfg.Device.DevRoot))
}

// ResolveAffinity resolves the configured affinity to a card index and a
// channel path. An explicit path is used as is and reports card -1.
func ResolveAffinity(cfg *config.Config) (int, string, error) {
	idx, path, err := cfg.ParseAffinity()
	if err != nil {
		return 0, "", driver.NewErrorWithCause(driver.StatusInvalidArgument, "affinity", err)
	}
	if path != "" {
		if !exists(path) {
			return 0, "", driver.NewError(driver.StatusNoSuchDevice, path)
		}
		return idx, path, nil
	}
	path, err = ResolveDevicePath(cfg, idx)
	if err != nil {
		return 0, "", err
	}
	return idx, path, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// StaticResolver always returns the same assignment. It is used with
// simulated cards and when the session table is not wanted.
type StaticResolver struct {
	Session Session
}

// Resolve implements Resolver
func (r StaticResolver) Resolve() (*Session, error) {
	s := r.Session
	if s.PID == 0 {
		s.PID = os.Getpid()
	}
	return &s, nil
}

// AffinityResolver assigns every process to the configured card without
// keeping a table
type AffinityResolver struct {
	Config *config.Config
}

// Resolve implements Resolver
func (r AffinityResolver) Resolve() (*Session, error) {
	idx, path, err := ResolveAffinity(r.Config)
	if err != nil {
		return nil, err
	}
	return &Session{PID: os.Getpid(), CardID: idx, DevicePath: path}, nil
}
