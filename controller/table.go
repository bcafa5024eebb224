// Package controller bridges an industrial controller's variable table to the measurement
// orchestrator. The controller raises trigger variables and the bridge answers through a
// Busy/Ready handshake, writing results back into the same table.
package controller

import (
	"context"
)

// A Table reads and writes controller variables by their full symbol name. Implementations
// must be safe for concurrent use.
type Table interface {
	ReadBool(ctx context.Context, name string) (bool, error)
	ReadInt(ctx context.Context, name string) (int64, error)
	WriteBool(ctx context.Context, name string, value bool) error
	WriteInt(ctx context.Context, name string, value int64) error
	WriteFloat(ctx context.Context, name string, value float64) error
	WriteString(ctx context.Context, name string, value string) error
}
