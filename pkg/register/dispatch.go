package register

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/lumix-remote/lumix-go/pkg/interaction"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Op is the kind of register call.
type Op uint8

const (
	OpRead Op = iota
	OpWrite
	OpWriteNoAck
)

// Call is a single register operation routed through the executor.
type Call struct {
	Op      Op
	Address uint16
	Data    []byte

	// Idle marks calls that must not run while the device is operated by
	// hand.
	Idle bool
}

// ReadCall reads addr.
func ReadCall(addr uint16) Call { return Call{Op: OpRead, Address: addr} }

// WriteCall writes data to addr and waits for the device.
func WriteCall(addr uint16, data []byte) Call {
	return Call{Op: OpWrite, Address: addr, Data: data}
}

// WriteNoAckCall writes data to addr without waiting.
func WriteNoAckCall(addr uint16, data []byte) Call {
	return Call{Op: OpWriteNoAck, Address: addr, Data: data}
}

// Target implements interaction.Call.
func (c Call) Target() string {
	switch c.Op {
	case OpRead:
		return fmt.Sprintf("read 0x%04x", c.Address)
	default:
		return fmt.Sprintf("write 0x%04x=%s", c.Address, hex.EncodeToString(c.Data))
	}
}

// RequiresIdle implements interaction.Gated.
func (c Call) RequiresIdle() bool { return c.Idle }

// Dispatch implements interaction.Dispatcher. Register operations carry no
// device status, so every completed operation is StatusOK with the read
// bytes as payload.
func (a *Access) Dispatch(ctx context.Context, call interaction.Call) (*interaction.Result, error) {
	c, ok := call.(Call)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a register call", wire.ErrInvalidParameter, call)
	}
	switch c.Op {
	case OpRead:
		data, err := a.Read(ctx, c.Address)
		if err != nil {
			return nil, err
		}
		return &interaction.Result{Status: wire.StatusOK, Payload: data, Raw: data}, nil
	case OpWrite, OpWriteNoAck:
		if err := a.Write(ctx, c.Address, c.Data, c.Op == OpWrite); err != nil {
			return nil, err
		}
		return &interaction.Result{Status: wire.StatusOK}, nil
	default:
		return nil, fmt.Errorf("%w: register op %d", wire.ErrInvalidParameter, c.Op)
	}
}

var _ interaction.Dispatcher = (*Access)(nil)
