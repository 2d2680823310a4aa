package session

import (
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sys/unix"

	"github.com/emergingrobotics/go-vkil/pkg/config"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
)

const tableVersion = 1

// Entry is one process's row in the session table
type Entry struct {
	PID       int `msgpack:"pid"`
	SessionID int `msgpack:"session_id"`
	CardID    int `msgpack:"card_id"`
}

type table struct {
	Version int     `msgpack:"version"`
	Entries []Entry `msgpack:"entries"`
}

// TableResolver keeps the session table in a file shared by every process
// on the host. The file is held under an exclusive flock while it is read
// and rewritten. Rows of processes that no longer exist are dropped on
// every access.
type TableResolver struct {
	cfg      *config.Config
	path     string
	maxCards int
	perCard  int

	pid   int
	alive func(pid int) bool
}

// NewTableResolver creates a resolver for the table named in cfg
func NewTableResolver(cfg *config.Config) *TableResolver {
	return &TableResolver{
		cfg:      cfg,
		path:     cfg.Session.TablePath,
		maxCards: cfg.Session.MaxCards,
		perCard:  cfg.Session.MaxSessionsPerCard,
		pid:      os.Getpid(),
		alive:    processAlive,
	}
}

// Path returns the table file path
func (r *TableResolver) Path() string {
	return r.path
}

// Resolve returns the calling process's entry, creating it on the
// affinity card when absent. An entry made under an earlier affinity
// moves to the current card.
func (r *TableResolver) Resolve() (*Session, error) {
	idx, devPath, err := ResolveAffinity(r.cfg)
	if err != nil {
		return nil, err
	}
	card := idx
	if card < 0 {
		// an explicit path is accounted against the first card
		card = 0
	}
	if card >= r.maxCards {
		return nil, driver.NewError(driver.StatusInvalidArgument,
			fmt.Sprintf("card %d beyond the %d cards the session table tracks", card, r.maxCards))
	}

	var entry Entry
	err = r.update(func(t *table) error {
		for i, e := range t.Entries {
			if e.PID != r.pid {
				continue
			}
			if e.CardID != card {
				if err := r.checkCard(t, card); err != nil {
					return err
				}
				t.Entries[i].CardID = card
			}
			entry = t.Entries[i]
			return nil
		}
		e, err := r.create(t, card)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		PID:        entry.PID,
		ID:         entry.SessionID,
		CardID:     idx,
		DevicePath: devPath,
	}, nil
}

func (r *TableResolver) create(t *table, card int) (Entry, error) {
	if len(t.Entries) >= r.maxCards*r.perCard {
		return Entry{}, driver.NewError(driver.StatusExhausted, "session table full")
	}
	if err := r.checkCard(t, card); err != nil {
		return Entry{}, err
	}
	used := make(map[int]bool, len(t.Entries))
	for _, e := range t.Entries {
		used[e.SessionID] = true
	}

	id := 0
	for used[id] {
		id++
	}
	e := Entry{PID: r.pid, SessionID: id, CardID: card}
	t.Entries = append(t.Entries, e)
	return e, nil
}

// checkCard fails when card has no room for another session
func (r *TableResolver) checkCard(t *table, card int) error {
	onCard := 0
	for _, e := range t.Entries {
		if e.CardID == card {
			onCard++
		}
	}
	if onCard >= r.perCard {
		return driver.NewError(driver.StatusExhausted, fmt.Sprintf("card %d has %d sessions", card, onCard))
	}
	return nil
}

// Release removes the calling process's entry
func (r *TableResolver) Release() error {
	return r.update(func(t *table) error {
		kept := t.Entries[:0]
		for _, e := range t.Entries {
			if e.PID != r.pid {
				kept = append(kept, e)
			}
		}
		t.Entries = kept
		return nil
	})
}

// Entries returns the live rows of the table
func (r *TableResolver) Entries() ([]Entry, error) {
	var out []Entry
	err := r.update(func(t *table) error {
		out = append(out, t.Entries...)
		return nil
	})
	return out, err
}

// update runs fn on the table under the file lock and writes the result
// back
func (r *TableResolver) update(fn func(t *table) error) error {
	f, err := os.OpenFile(r.path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return driver.NewErrorWithCause(driver.StatusDriverOperationFailed, "open session table", err)
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return driver.NewErrorWithCause(driver.StatusDriverOperationFailed, "lock session table", err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	data, err := io.ReadAll(f)
	if err != nil {
		return driver.NewErrorWithCause(driver.StatusDriverOperationFailed, "read session table", err)
	}
	t := &table{Version: tableVersion}
	if len(data) > 0 {
		if err := msgpack.Unmarshal(data, t); err != nil {
			return driver.NewErrorWithCause(driver.StatusProtocolViolation, "decode session table", err)
		}
	}
	r.prune(t)

	if err := fn(t); err != nil {
		return err
	}

	t.Version = tableVersion
	out, err := msgpack.Marshal(t)
	if err != nil {
		return driver.NewErrorWithCause(driver.StatusDriverOperationFailed, "encode session table", err)
	}
	if err := f.Truncate(0); err != nil {
		return driver.NewErrorWithCause(driver.StatusDriverOperationFailed, "truncate session table", err)
	}
	if _, err := f.WriteAt(out, 0); err != nil {
		return driver.NewErrorWithCause(driver.StatusDriverOperationFailed, "write session table", err)
	}
	return nil
}

func (r *TableResolver) prune(t *table) {
	kept := t.Entries[:0]
	for _, e := range t.Entries {
		if r.alive(e.PID) {
			kept = append(kept, e)
		}
	}
	t.Entries = kept
}

// processAlive probes pid with signal 0. EPERM means the process exists
// but belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
