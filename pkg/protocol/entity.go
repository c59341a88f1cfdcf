package protocol

import (
	"bytes"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Entity is the payload of a message: ordered meta plus a data stream.
//
// The data stream is consumed at most once. Bytes and String drain it and
// keep the result, so they may be called repeatedly; Data returns the raw
// stream and leaves it to the caller.
type Entity struct {
	metaKeys []string
	meta     map[string]string

	mu       sync.Mutex
	data     io.Reader
	dataSize int
	drained  []byte
	drainErr error
	isDrain  bool
}

// NewEntity creates an entity with no meta and no data.
func NewEntity() *Entity {
	return &Entity{data: bytes.NewReader(nil)}
}

// NewStringEntity creates an entity carrying s.
func NewStringEntity(s string) *Entity {
	return NewBytesEntity([]byte(s))
}

// NewBytesEntity creates an entity carrying b. b must not be modified afterwards.
func NewBytesEntity(b []byte) *Entity {
	return &Entity{data: bytes.NewReader(b), dataSize: len(b)}
}

// NewReaderEntity creates an entity streaming size bytes from r.
// If r implements io.Closer it is closed by Release.
func NewReaderEntity(r io.Reader, size int) *Entity {
	if r == nil {
		r = bytes.NewReader(nil)
		size = 0
	}
	return &Entity{data: r, dataSize: size}
}

// NewFileEntity creates an entity streaming the file at path.
// The file is closed by Release or when the entity is fully sent.
func NewFileEntity(path string) (*Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	e := NewReaderEntity(f, int(info.Size()))
	e.PutMeta(MetaDataDispositionFilename, filepath.Base(path))
	return e, nil
}

// PutMeta sets a meta value, keeping first-insertion order.
func (e *Entity) PutMeta(name, value string) *Entity {
	if e.meta == nil {
		e.meta = make(map[string]string)
	}
	if _, ok := e.meta[name]; !ok {
		e.metaKeys = append(e.metaKeys, name)
	}
	e.meta[name] = value
	return e
}

// DelMeta removes a meta value.
func (e *Entity) DelMeta(name string) *Entity {
	if _, ok := e.meta[name]; !ok {
		return e
	}
	delete(e.meta, name)
	for i, k := range e.metaKeys {
		if k == name {
			e.metaKeys = append(e.metaKeys[:i], e.metaKeys[i+1:]...)
			break
		}
	}
	return e
}

// Meta returns a meta value or "" when absent.
func (e *Entity) Meta(name string) string {
	return e.meta[name]
}

// HasMeta reports whether the meta key is present.
func (e *Entity) HasMeta(name string) bool {
	_, ok := e.meta[name]
	return ok
}

// MetaOrDefault returns a meta value or def when absent.
func (e *Entity) MetaOrDefault(name, def string) string {
	if v, ok := e.meta[name]; ok {
		return v
	}
	return def
}

// MetaAsInt parses a meta value as an int.
func (e *Entity) MetaAsInt(name string) (int, error) {
	return strconv.Atoi(e.meta[name])
}

// MetaKeys returns the meta keys in insertion order.
func (e *Entity) MetaKeys() []string {
	keys := make([]string, len(e.metaKeys))
	copy(keys, e.metaKeys)
	return keys
}

// EachMeta calls fn for every meta pair in insertion order.
func (e *Entity) EachMeta(fn func(name, value string)) {
	for _, k := range e.metaKeys {
		fn(k, e.meta[k])
	}
}

// MetaString encodes meta in query-string form, preserving order.
func (e *Entity) MetaString() string {
	if len(e.metaKeys) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, k := range e.metaKeys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(e.meta[k]))
	}
	return sb.String()
}

// ParseMetaString decodes a query-string meta block into e.
func (e *Entity) ParseMetaString(s string) error {
	if s == "" {
		return nil
	}
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return err
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return err
		}
		e.PutMeta(key, val)
	}
	return nil
}

// At addresses the entity to a named peer ("name") or a group ("name*").
func (e *Entity) At(name string) *Entity {
	return e.PutMeta(MetaAt, name)
}

// Data returns the data stream.
func (e *Entity) Data() io.Reader {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isDrain {
		return bytes.NewReader(e.drained)
	}
	return e.data
}

// DataSize returns the declared payload length in bytes.
func (e *Entity) DataSize() int {
	return e.dataSize
}

// Bytes drains the data stream and returns its content.
func (e *Entity) Bytes() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isDrain {
		e.isDrain = true
		buf := make([]byte, e.dataSize)
		n, err := io.ReadFull(e.data, buf)
		if err == io.EOF && e.dataSize == 0 {
			err = nil
		}
		e.drained, e.drainErr = buf[:n], err
		if c, ok := e.data.(io.Closer); ok {
			c.Close()
		}
	}
	return e.drained, e.drainErr
}

// String drains the data stream and returns it as a string.
// Read errors yield the bytes read so far.
func (e *Entity) String() string {
	b, _ := e.Bytes()
	return string(b)
}

// Release closes the data stream when it holds a resource (file, temp file).
func (e *Entity) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.data.(io.Closer); ok && !e.isDrain {
		e.isDrain = true
		return c.Close()
	}
	return nil
}

// copyMeta returns a new entity with e's meta and no data.
func (e *Entity) copyMeta() *Entity {
	c := NewEntity()
	e.EachMeta(func(name, value string) { c.PutMeta(name, value) })
	return c
}

// WithData returns a new entity carrying e's meta and the given stream.
func (e *Entity) WithData(r io.Reader, size int) *Entity {
	c := e.copyMeta()
	c.data = r
	c.dataSize = size
	return c
}
