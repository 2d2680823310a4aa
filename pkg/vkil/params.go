package vkil

import (
	"encoding/binary"
	"fmt"

	"github.com/emergingrobotics/go-vkil/pkg/backend"
	"github.com/emergingrobotics/go-vkil/pkg/driver"
	"github.com/emergingrobotics/go-vkil/pkg/message"
)

func checkParameter(p message.Parameter, cmd message.Command) error {
	if !cmd.Blocking() {
		return driver.NewError(driver.StatusUnsupported, "non-blocking parameter access")
	}
	if !p.Valid() {
		return driver.NewError(driver.StatusInvalidArgument, fmt.Sprintf("parameter %d", uint32(p)))
	}
	return nil
}

// SetParameter writes a component parameter. value must be the
// parameter's registered size; scalar parameters accept up to four bytes.
// Only blocking access is supported.
func (a *API) SetParameter(c *Context, p message.Parameter, value []byte, cmd message.Command) error {
	if err := checkParameter(p, cmd); err != nil {
		return err
	}
	size := p.Size()
	if len(value) > size || (size > message.DefaultParamSize && len(value) != size) {
		return driver.NewError(driver.StatusInvalidArgument,
			fmt.Sprintf("%s takes %d bytes, got %d", p, size, len(value)))
	}
	dev, handle, err := c.ready()
	if err != nil {
		return err
	}

	req := &message.Request{Function: message.FuncSetParam, ContextID: handle}
	req.SetField(p, 0)
	if err := req.SetValue(value); err != nil {
		return err
	}
	if _, err := a.roundTrip(c, dev, req, backend.WaitNormal); err != nil {
		return fmt.Errorf("set %s: %w", p, err)
	}
	c.log.Debug("parameter set", "parameter", p.String(), "size", size)
	return nil
}

// GetParameter reads a component parameter. Only blocking access is
// supported.
func (a *API) GetParameter(c *Context, p message.Parameter, cmd message.Command) ([]byte, error) {
	if err := checkParameter(p, cmd); err != nil {
		return nil, err
	}
	dev, handle, err := c.ready()
	if err != nil {
		return nil, err
	}

	req := &message.Request{Function: message.FuncGetParam, ContextID: handle}
	req.SetField(p, 0)
	resp, err := a.roundTrip(c, dev, req, backend.WaitNormal)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return resp.Value(p.Size()), nil
}

// SetParameterUint32 writes a scalar parameter
func (a *API) SetParameterUint32(c *Context, p message.Parameter, value uint32, cmd message.Command) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)
	return a.SetParameter(c, p, b[:], cmd)
}

// GetParameterUint32 reads a scalar parameter
func (a *API) GetParameterUint32(c *Context, p message.Parameter, cmd message.Command) (uint32, error) {
	b, err := a.GetParameter(c, p, cmd)
	if err != nil {
		return 0, err
	}
	var word [4]byte
	copy(word[:], b)
	return binary.LittleEndian.Uint32(word[:]), nil
}
