// Package fragment splits oversized entities into ordered fragments and
// reassembles inbound fragments into complete messages.
//
// Reassembly spills to temporary files, so payloads of any size are held
// with bounded memory.
package fragment

import (
	"io"
	"strconv"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// DefaultMaxSize is the default fragmentation threshold and chunk size (512KB).
const DefaultMaxSize = 512 * 1024

// DefaultMaxPending bounds the number of out-of-order fragments held per sid.
const DefaultMaxPending = 64

// Handler decides when to fragment and builds the fragments.
// A Handler is stateless and safe to share between channels; per-channel
// reassembly state lives in an Assembler.
type Handler struct {
	// MaxSize is both the threshold above which an entity is fragmented and
	// the size of each fragment. Zero means DefaultMaxSize.
	MaxSize int

	// AggregationEnabled turns inbound reassembly on. Transports that chunk
	// on their own (datagrams) switch it off and get fragments unchanged.
	AggregationEnabled bool

	// TempDir holds reassembly files. Empty means os.TempDir().
	TempDir string

	// MaxPending bounds out-of-order fragments buffered per sid.
	// Zero means DefaultMaxPending.
	MaxPending int
}

// NewHandler returns a handler with default limits and aggregation enabled.
func NewHandler() *Handler {
	return &Handler{
		MaxSize:            DefaultMaxSize,
		AggregationEnabled: true,
		MaxPending:         DefaultMaxPending,
	}
}

func (h *Handler) maxSize() int {
	if h == nil || h.MaxSize <= 0 {
		return DefaultMaxSize
	}
	return h.MaxSize
}

func (h *Handler) maxPending() int {
	if h.MaxPending <= 0 {
		return DefaultMaxPending
	}
	return h.MaxPending
}

// ShouldFragment reports whether e is larger than the threshold.
func (h *Handler) ShouldFragment(e *protocol.Entity) bool {
	return e.DataSize() > h.maxSize()
}

// FragmentCount returns how many fragments an entity of size bytes yields.
func (h *Handler) FragmentCount(size int) int {
	n := h.maxSize()
	return (size + n - 1) / n
}

// Cursor tracks progress through a source entity. The zero value starts at
// the first fragment.
type Cursor struct {
	index  int
	offset int
	src    io.Reader
}

// Index returns the index the next fragment will carry.
func (c *Cursor) Index() int { return c.index }

// NextFragment slices the next chunk off src. It returns nil when src is
// exhausted. The source data stream is read sequentially, exactly once.
//
// Every fragment carries Data-Fragment-Idx; the first one also carries the
// source meta and Data-Length.
func (h *Handler) NextFragment(src *protocol.Entity, c *Cursor) (*protocol.Entity, error) {
	total := src.DataSize()
	if c.offset >= total {
		return nil, nil
	}
	if c.src == nil {
		c.src = src.Data()
	}

	n := h.maxSize()
	if rest := total - c.offset; rest < n {
		n = rest
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.src, buf); err != nil {
		return nil, protocol.NewCodecError("read fragment "+strconv.Itoa(c.index), err)
	}

	frag := protocol.NewBytesEntity(buf)
	if c.index == 0 {
		src.EachMeta(func(name, value string) { frag.PutMeta(name, value) })
		frag.PutMeta(protocol.MetaDataLength, strconv.Itoa(total))
	}
	frag.PutMeta(protocol.MetaDataFragmentIdx, strconv.Itoa(c.index))

	c.index++
	c.offset += n
	if c.offset >= total {
		if closer, ok := c.src.(io.Closer); ok {
			closer.Close()
		}
	}
	return frag, nil
}

// IsFragment reports whether msg is one fragment of a larger payload.
func IsFragment(msg *protocol.Message) bool {
	return msg != nil && msg.Entity().HasMeta(protocol.MetaDataFragmentIdx)
}
