package gifpress

import "github.com/gifpress/gifpress/core"

// Inner exposes the underlying core.Processor for advanced use (e.g., direct
// registry access in tests).  Prefer the high-level API for normal usage.
func (c *Compressor) Inner() *core.Processor { return c.inner }
