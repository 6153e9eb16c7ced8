package coordinator

import (
	"context"
	"sync/atomic"

	"github.com/obsidianstack/octo-agent/pkg/types"
)

// Holder forwards to the current Coordinator. A reconfigure builds a new
// Coordinator and swaps it in; readers never see a half-built one.
type Holder struct {
	p atomic.Pointer[Coordinator]
}

// NewHolder returns a Holder serving c.
func NewHolder(c *Coordinator) *Holder {
	h := &Holder{}
	h.p.Store(c)
	return h
}

// Swap installs c and returns the previous Coordinator.
func (h *Holder) Swap(c *Coordinator) *Coordinator {
	return h.p.Swap(c)
}

// Load returns the current Coordinator.
func (h *Holder) Load() *Coordinator {
	return h.p.Load()
}

func (h *Holder) Username() string {
	return h.Load().Username()
}

func (h *Holder) CurrentReading() (types.Reading, bool) {
	return h.Load().CurrentReading()
}

func (h *Holder) Status() types.Status {
	return h.Load().Status()
}

func (h *Holder) RefreshAsync(ctx context.Context) bool {
	return h.Load().RefreshAsync(ctx)
}
