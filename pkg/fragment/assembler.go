package fragment

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/socketd-go/socketd/pkg/protocol"
)

// Assembler reassembles fragmented inbound messages for one channel.
// It is safe for concurrent use, although a channel feeds it from its
// single read path.
type Assembler struct {
	h *Handler

	mu     sync.Mutex
	aggs   map[string]*aggregator
	closed bool
}

// NewAssembler creates per-channel reassembly state.
func (h *Handler) NewAssembler() *Assembler {
	return &Assembler{
		h:    h,
		aggs: make(map[string]*aggregator),
	}
}

// Aggregate feeds one inbound frame through reassembly.
//
// Frames that are not fragments, and all frames when aggregation is
// disabled, are returned unchanged. For fragments it returns nil until the
// declared Data-Length has been received, then the complete frame whose
// entity streams from the reassembly file.
func (a *Assembler) Aggregate(f *protocol.Frame) (*protocol.Frame, error) {
	if !a.h.AggregationEnabled || !IsFragment(f.Message) {
		return f, nil
	}

	msg := f.Message
	idx, err := msg.Entity().MetaAsInt(protocol.MetaDataFragmentIdx)
	if err != nil || idx < 0 {
		return nil, protocol.NewCodecError("invalid "+protocol.MetaDataFragmentIdx+" on sid "+msg.SID(), err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, protocol.ErrClosed
	}

	agg, ok := a.aggs[msg.SID()]
	if !ok {
		agg = &aggregator{sid: msg.SID(), total: -1, pending: make(map[int][]byte)}
		a.aggs[msg.SID()] = agg
	}

	done, err := agg.add(a.h, idx, msg)
	if err != nil {
		delete(a.aggs, msg.SID())
		agg.release()
		return nil, err
	}
	if !done {
		return nil, nil
	}

	delete(a.aggs, msg.SID())
	out, err := agg.frame(f.Flag)
	if err != nil {
		agg.release()
		return nil, err
	}
	return out, nil
}

// Release drops any partial reassembly for sid.
func (a *Assembler) Release(sid string) {
	a.mu.Lock()
	agg, ok := a.aggs[sid]
	delete(a.aggs, sid)
	a.mu.Unlock()
	if ok {
		agg.release()
	}
}

// Len returns the number of sids with a reassembly in progress.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.aggs)
}

// Close drops every partial reassembly and refuses further fragments.
func (a *Assembler) Close() {
	a.mu.Lock()
	aggs := a.aggs
	a.aggs = make(map[string]*aggregator)
	a.closed = true
	a.mu.Unlock()

	for _, agg := range aggs {
		agg.release()
	}
}

// aggregator collects the fragments of one sid into a temp file.
type aggregator struct {
	sid      string
	first    *protocol.Message
	total    int // -1 until fragment 0 arrives
	received int
	next     int
	file     *os.File
	pending  map[int][]byte
}

// add stores one fragment and reports whether the payload is complete.
func (g *aggregator) add(h *Handler, idx int, msg *protocol.Message) (bool, error) {
	if idx < g.next {
		return false, protocol.NewCodecError(fmt.Sprintf("duplicate fragment %d on sid %s", idx, g.sid), nil)
	}

	data, err := msg.Entity().Bytes()
	if err != nil {
		return false, protocol.NewCodecError("read fragment data", err)
	}

	if idx == 0 {
		if !msg.Entity().HasMeta(protocol.MetaDataLength) {
			return false, protocol.NewCodecError("first fragment without "+protocol.MetaDataLength+" on sid "+g.sid, nil)
		}
		total, err := msg.Entity().MetaAsInt(protocol.MetaDataLength)
		if err != nil || total < 0 {
			return false, protocol.NewCodecError("invalid "+protocol.MetaDataLength+" on sid "+g.sid, err)
		}
		g.total = total
		g.first = msg
	}

	if idx != g.next {
		if _, dup := g.pending[idx]; dup {
			return false, protocol.NewCodecError(fmt.Sprintf("duplicate fragment %d on sid %s", idx, g.sid), nil)
		}
		if len(g.pending) >= h.maxPending() {
			return false, protocol.NewCodecError(fmt.Sprintf("too many out-of-order fragments on sid %s", g.sid), nil)
		}
		g.pending[idx] = data
		return false, nil
	}

	if err := g.write(h, data); err != nil {
		return false, err
	}
	for {
		chunk, ok := g.pending[g.next]
		if !ok {
			break
		}
		delete(g.pending, g.next)
		if err := g.write(h, chunk); err != nil {
			return false, err
		}
	}

	if g.total < 0 {
		return false, nil
	}
	if g.received > g.total {
		return false, protocol.NewCodecError(fmt.Sprintf("fragments exceed %s %d on sid %s", protocol.MetaDataLength, g.total, g.sid), nil)
	}
	return g.received == g.total, nil
}

func (g *aggregator) write(h *Handler, data []byte) error {
	if g.file == nil {
		f, err := os.CreateTemp(h.TempDir, "socketd-fragment-*")
		if err != nil {
			return protocol.NewCodecError("create reassembly file", err)
		}
		g.file = f
	}
	if _, err := g.file.Write(data); err != nil {
		return protocol.NewCodecError("write reassembly file", err)
	}
	g.received += len(data)
	g.next++
	return nil
}

// frame builds the reassembled frame. The returned entity owns the temp
// file, which is removed once the entity is drained or released.
func (g *aggregator) frame(flag protocol.Flag) (*protocol.Frame, error) {
	var data io.Reader
	if g.file != nil {
		if _, err := g.file.Seek(0, io.SeekStart); err != nil {
			return nil, protocol.NewCodecError("rewind reassembly file", err)
		}
		data = &tempFileReader{File: g.file}
		g.file = nil
	}

	entity := protocol.NewReaderEntity(data, g.total)
	g.first.Entity().EachMeta(func(name, value string) {
		if name != protocol.MetaDataFragmentIdx {
			entity.PutMeta(name, value)
		}
	})
	entity.PutMeta(protocol.MetaDataLength, strconv.Itoa(g.total))

	return protocol.NewFrame(flag, protocol.NewMessage(flag, g.sid, g.first.Event(), entity)), nil
}

func (g *aggregator) release() {
	if g.file != nil {
		name := g.file.Name()
		g.file.Close()
		os.Remove(name)
		g.file = nil
	}
	g.pending = nil
}

// tempFileReader deletes its file on Close.
type tempFileReader struct {
	*os.File
}

func (r *tempFileReader) Close() error {
	err := r.File.Close()
	os.Remove(r.File.Name())
	return err
}
