package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator allocates unit ids from a content hash, a timestamp, a
// per-generator instance tag and a monotonic counter. Two calls never return
// the same id, including for identical content in the same nanosecond, and
// separate processes differ by instance tag.
type IDGenerator struct {
	instance string
	counter  atomic.Uint64
	now      func() time.Time
}

// NewIDGenerator creates a generator with a fresh random instance tag.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{
		instance: uuid.NewString()[:8],
		now:      time.Now,
	}
}

// Next returns a new unit id for content.
func (g *IDGenerator) Next(content string) string {
	sum := sha256.Sum256([]byte(content))
	n := g.counter.Add(1)
	return fmt.Sprintf("mem_%s_%d_%s_%d",
		hex.EncodeToString(sum[:6]), g.now().UnixNano(), g.instance, n)
}
