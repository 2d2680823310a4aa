package backend

import (
	"fmt"
	"sync"

	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

// MaxInFlight is the number of allocatable message ids; id 0 is reserved
const MaxInFlight = message.MsgIDSlots - 1

type msgSlot struct {
	used     bool
	userData uint64
}

// MsgTable hands out message ids and keeps caller data attached to each
// id while it is in flight
type MsgTable struct {
	mu    sync.Mutex
	slots [message.MsgIDSlots]msgSlot
	inUse int
}

// Allocate returns the lowest free id. Exhaustion is reported, never
// wrapped around.
func (t *MsgTable) Allocate() (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := 1; id < message.MsgIDSlots; id++ {
		if !t.slots[id].used {
			t.slots[id] = msgSlot{used: true}
			t.inUse++
			return uint16(id), nil
		}
	}
	return 0, driver.NewError(driver.StatusExhausted, fmt.Sprintf("%d messages in flight", MaxInFlight))
}

// Release frees id. Releasing a free id is rejected.
func (t *MsgTable) Release(id uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id == 0 || int(id) >= message.MsgIDSlots {
		return driver.NewError(driver.StatusInvalidID, fmt.Sprintf("message id %d out of range", id))
	}
	if !t.slots[id].used {
		return driver.NewError(driver.StatusDoubleRelease, fmt.Sprintf("message id %d", id))
	}
	t.slots[id] = msgSlot{}
	t.inUse--
	return nil
}

// SetUserData attaches data to an in-flight id
func (t *MsgTable) SetUserData(id uint16, data uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(id); err != nil {
		return err
	}
	t.slots[id].userData = data
	return nil
}

// UserData returns the data attached to an in-flight id
func (t *MsgTable) UserData(id uint16) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.check(id); err != nil {
		return 0, err
	}
	return t.slots[id].userData, nil
}

// InUse returns the number of ids in flight
func (t *MsgTable) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inUse
}

// check must be called with mu held
func (t *MsgTable) check(id uint16) error {
	if id == 0 || int(id) >= message.MsgIDSlots {
		return driver.NewError(driver.StatusInvalidID, fmt.Sprintf("message id %d out of range", id))
	}
	if !t.slots[id].used {
		return driver.NewError(driver.StatusInvalidID, fmt.Sprintf("message id %d not in flight", id))
	}
	return nil
}
