//go:build unit

package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/emergingrobotics/go-vkil/pkg/config"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/testutil"
)

func testConfig(t *testing.T, nodes ...string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Device.DevRoot = testutil.FakeDevRoot(t, nodes...)
	cfg.Session.TablePath = filepath.Join(t.TempDir(), "sessions")
	return cfg
}

func TestResolveDevicePath(t *testing.T) {
	tests := []struct {
		name  string
		nodes []string
		idx   int
		want  string
	}{
		{"primary", []string{"bcm_vk.0"}, 0, "bcm_vk.0"},
		{"legacy fallback", []string{"bcm-vk.1"}, 1, "bcm-vk.1"},
		{"primary preferred", []string{"bcm_vk.2", "bcm-vk.2"}, 2, "bcm_vk.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.nodes...)
			path, err := ResolveDevicePath(cfg, tt.idx)
			if err != nil {
				t.Fatalf("ResolveDevicePath: %v", err)
			}
			if want := filepath.Join(cfg.Device.DevRoot, tt.want); path != want {
				t.Errorf("path = %s, expected %s", path, want)
			}
		})
	}
}

func TestResolveDevicePathMissing(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0")
	_, err := ResolveDevicePath(cfg, 3)
	if !errors.Is(err, driver.ErrNoSuchDevice) {
		t.Errorf("expected no such device, got %v", err)
	}
}

func TestResolveAffinity(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0", "bcm-vk.1")

	idx, path, err := ResolveAffinity(cfg)
	if err != nil || idx != 0 || filepath.Base(path) != "bcm_vk.0" {
		t.Errorf("default affinity = %d %s %v", idx, path, err)
	}

	if err := cfg.SetAffinity("1"); err != nil {
		t.Fatal(err)
	}
	idx, path, err = ResolveAffinity(cfg)
	if err != nil || idx != 1 || filepath.Base(path) != "bcm-vk.1" {
		t.Errorf("affinity 1 = %d %s %v", idx, path, err)
	}

	explicit := filepath.Join(cfg.Device.DevRoot, "bcm-vk.1")
	if err := cfg.SetAffinity(explicit); err != nil {
		t.Fatal(err)
	}
	idx, path, err = ResolveAffinity(cfg)
	if err != nil || idx != -1 || path != explicit {
		t.Errorf("explicit affinity = %d %s %v", idx, path, err)
	}

	if err := cfg.SetAffinity(filepath.Join(cfg.Device.DevRoot, "nope")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ResolveAffinity(cfg); !errors.Is(err, driver.ErrNoSuchDevice) {
		t.Errorf("missing explicit path: expected no such device, got %v", err)
	}
}

func TestStaticResolverFillsPID(t *testing.T) {
	s, err := StaticResolver{Session: Session{CardID: 2, DevicePath: "sim"}}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if s.PID != os.Getpid() || s.CardID != 2 || s.DevicePath != "sim" {
		t.Errorf("session = %+v", s)
	}
}

func newTestTable(t *testing.T, cfg *config.Config, pid int, alive map[int]bool) *TableResolver {
	t.Helper()
	r := NewTableResolver(cfg)
	r.pid = pid
	r.alive = func(p int) bool { return alive[p] }
	return r
}

func TestTableAssignsAndReusesSession(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0")
	alive := map[int]bool{100: true, 200: true}

	a := newTestTable(t, cfg, 100, alive)
	s1, err := a.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if s1.ID != 0 || s1.CardID != 0 || s1.PID != 100 {
		t.Errorf("first session = %+v", s1)
	}

	again, err := a.Resolve()
	if err != nil || again.ID != s1.ID {
		t.Errorf("second Resolve = %+v, %v; expected the same session", again, err)
	}

	b := newTestTable(t, cfg, 200, alive)
	s2, err := b.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if s2.ID != 1 {
		t.Errorf("second process session id = %d, expected 1", s2.ID)
	}

	entries, err := b.Entries()
	if err != nil || len(entries) != 2 {
		t.Errorf("Entries = %v, %v", entries, err)
	}
}

func TestTablePrunesDeadProcesses(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0")
	alive := map[int]bool{100: true, 200: true}

	if _, err := newTestTable(t, cfg, 100, alive).Resolve(); err != nil {
		t.Fatal(err)
	}
	alive[100] = false

	s, err := newTestTable(t, cfg, 200, alive).Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != 0 {
		t.Errorf("session id = %d, expected the dead process's slot 0", s.ID)
	}
}

func TestTableExhaustion(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0")
	cfg.Session.MaxSessionsPerCard = 2
	alive := map[int]bool{1: true, 2: true, 3: true}

	for pid := 1; pid <= 2; pid++ {
		if _, err := newTestTable(t, cfg, pid, alive).Resolve(); err != nil {
			t.Fatalf("pid %d: %v", pid, err)
		}
	}
	_, err := newTestTable(t, cfg, 3, alive).Resolve()
	if !errors.Is(err, driver.ErrExhausted) {
		t.Errorf("expected exhausted, got %v", err)
	}
}

func TestTableRelease(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0")
	alive := map[int]bool{7: true}

	r := newTestTable(t, cfg, 7, alive)
	if _, err := r.Resolve(); err != nil {
		t.Fatal(err)
	}
	if err := r.Release(); err != nil {
		t.Fatal(err)
	}
	entries, err := r.Entries()
	if err != nil || len(entries) != 0 {
		t.Errorf("Entries after Release = %v, %v", entries, err)
	}
}

func TestTableRejectsCorruptFile(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.0")
	if err := os.WriteFile(cfg.Session.TablePath, []byte{0xc1}, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := NewTableResolver(cfg).Resolve()
	testutil.AssertStatus(t, err, driver.StatusProtocolViolation, "corrupt table")
}

func TestTableCardBeyondLimit(t *testing.T) {
	cfg := testConfig(t, "bcm_vk.5")
	cfg.Session.MaxCards = 4
	if err := cfg.SetAffinity("5"); err != nil {
		t.Fatal(err)
	}
	_, err := NewTableResolver(cfg).Resolve()
	testutil.AssertStatus(t, err, driver.StatusInvalidArgument, "card 5")
}

func TestTableFollowsAffinityChange(t *testing.T) {
	tests := []struct {
		name    string
		perCard int
		other   bool // another process takes card 1 first
		wantErr bool
		card    int
	}{
		{"moves to the new card", 2, false, false, 1},
		{"new card full", 1, true, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "bcm_vk.0", "bcm_vk.1")
			cfg.Session.MaxSessionsPerCard = tt.perCard
			alive := map[int]bool{100: true, 200: true}

			r := newTestTable(t, cfg, 100, alive)
			first, err := r.Resolve()
			testutil.AssertNoError(t, err, "first Resolve")

			testutil.AssertNoError(t, cfg.SetAffinity("1"), "SetAffinity")
			if tt.other {
				_, err := newTestTable(t, cfg, 200, alive).Resolve()
				testutil.AssertNoError(t, err, "other process")
			}

			s, err := r.Resolve()
			if tt.wantErr {
				testutil.AssertError(t, err, "Resolve on a full card")
				if !errors.Is(err, driver.ErrExhausted) {
					t.Errorf("expected exhausted, got %v", err)
				}
			} else {
				testutil.AssertNoError(t, err, "second Resolve")
				testutil.AssertEqual(t, s.ID, first.ID, "session id")
				testutil.AssertEqual(t, s.CardID, 1, "session card")
			}

			entries, err := r.Entries()
			testutil.AssertNoError(t, err, "Entries")
			for _, e := range entries {
				if e.PID == 100 && e.CardID != tt.card {
					t.Errorf("entry card = %d, expected %d", e.CardID, tt.card)
				}
			}
		})
	}
}
