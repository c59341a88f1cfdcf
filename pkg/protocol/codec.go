package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout on the wire:
//
//	[len u32][flag u8]                         control frame without message
//	[len u32][flag u8][sid][event][meta][data] any other frame
//
// len counts the whole frame including itself. sid, event and meta are
// uvarint length-prefixed strings; data runs to the end of the frame.
const (
	frameHeaderSize = 5

	// DefaultMaxFrameSize bounds a single frame read from the wire (16MB + header room).
	DefaultMaxFrameSize = 16*1024*1024 + 64*1024
)

// Codec converts frames to and from a byte stream.
type Codec interface {
	// Write encodes f to w. The message data is streamed, not buffered.
	Write(w io.Writer, f *Frame) error

	// Read decodes the next frame from r. io.EOF is returned untouched when
	// the stream ends on a frame boundary.
	Read(r io.Reader) (*Frame, error)
}

// BinaryCodec is the length-prefixed binary frame codec.
type BinaryCodec struct {
	// MaxFrameSize rejects larger inbound frames with a fatal CodecError.
	// Zero means DefaultMaxFrameSize.
	MaxFrameSize int
}

// NewBinaryCodec creates a codec with the default frame limit.
func NewBinaryCodec() *BinaryCodec {
	return &BinaryCodec{MaxFrameSize: DefaultMaxFrameSize}
}

func (c *BinaryCodec) maxFrameSize() int {
	if c.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.MaxFrameSize
}

// Write implements Codec.
func (c *BinaryCodec) Write(w io.Writer, f *Frame) error {
	if f == nil {
		return NewCodecError("nil frame", nil)
	}

	e := NewEncoderWithCap(64)
	e.WriteUint32(0) // back-patched below
	e.WriteByte(byte(f.Flag))

	var (
		data     io.Reader
		dataSize int
	)
	if f.Message != nil {
		ent := f.Message.Entity()
		e.WriteString(f.Message.SID())
		e.WriteString(f.Message.Event())
		e.WriteString(ent.MetaString())
		data, dataSize = ent.Data(), ent.DataSize()
	}

	total := e.Len() + dataSize
	if total > c.maxFrameSize() {
		return NewCodecError(fmt.Sprintf("frame too large: %d > %d", total, c.maxFrameSize()), nil)
	}
	e.PutUint32At(0, uint32(total))

	if dataSize == 0 {
		_, err := w.Write(e.Bytes())
		return err
	}

	// Small payloads go out in one write.
	if dataSize <= 4096 {
		buf := make([]byte, dataSize)
		if _, err := io.ReadFull(data, buf); err != nil {
			return NewCodecError("short entity data", err)
		}
		e.WriteBytes(buf)
		_, err := w.Write(e.Bytes())
		return err
	}

	if _, err := w.Write(e.Bytes()); err != nil {
		return err
	}
	if _, err := io.CopyN(w, data, int64(dataSize)); err != nil {
		return err
	}
	return nil
}

// Read implements Codec.
func (c *BinaryCodec) Read(r io.Reader) (*Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	length := int(binary.BigEndian.Uint32(lenBuf[:]))

	if length < frameHeaderSize {
		return nil, &CodecError{Message: fmt.Sprintf("frame length %d below header size", length), Fatal: true}
	}
	if length > c.maxFrameSize() {
		return nil, &CodecError{Message: fmt.Sprintf("frame too large: %d > %d", length, c.maxFrameSize()), Fatal: true}
	}

	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return decodeBody(body)
}

// Decode decodes one complete frame held in b, as delivered by message-oriented
// transports.
func (c *BinaryCodec) Decode(b []byte) (*Frame, error) {
	if len(b) < frameHeaderSize {
		return nil, NewCodecError("frame shorter than header", nil)
	}
	length := int(binary.BigEndian.Uint32(b[:4]))
	if length != len(b) {
		return nil, NewCodecError(fmt.Sprintf("frame length %d does not match payload %d", length, len(b)), nil)
	}
	return decodeBody(b[4:])
}

func decodeBody(body []byte) (*Frame, error) {
	d := NewDecoder(body)
	fb, _ := d.ReadByte()
	flag := Flag(fb)

	if d.EOF() {
		if flag.IsControl() || !flag.IsValid() {
			return NewFrame(flag, nil), nil
		}
		return NewFrame(flag, NewMessage(flag, "", "", nil)), nil
	}

	sid, err := d.ReadString()
	if err != nil {
		return nil, NewCodecError("read sid", err)
	}
	event, err := d.ReadString()
	if err != nil {
		return nil, NewCodecError("read event", err)
	}
	metaStr, err := d.ReadString()
	if err != nil {
		return nil, NewCodecError("read meta", err)
	}

	data := d.Rest()
	entity := NewBytesEntity(data)
	if err := entity.ParseMetaString(metaStr); err != nil {
		return nil, NewCodecError("parse meta", err)
	}

	return NewFrame(flag, NewMessage(flag, sid, event, entity)), nil
}
