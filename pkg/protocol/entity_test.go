package protocol

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestEntityMetaOrder(t *testing.T) {
	e := NewEntity().
		PutMeta("b", "2").
		PutMeta("a", "1").
		PutMeta("c", "3").
		PutMeta("b", "22")

	if got := e.MetaString(); got != "b=22&a=1&c=3" {
		t.Errorf("MetaString() = %q", got)
	}

	e.DelMeta("a")
	if e.HasMeta("a") {
		t.Error("HasMeta(a) after DelMeta")
	}
	if keys := e.MetaKeys(); len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Errorf("MetaKeys() = %v", keys)
	}
	if v := e.MetaOrDefault("zz", "d"); v != "d" {
		t.Errorf("MetaOrDefault() = %q", v)
	}
}

func TestEntityParseMetaString(t *testing.T) {
	src := NewEntity().PutMeta("Data-Type", "text/plain").PutMeta("x y", "a&b")
	dst := NewEntity()
	if err := dst.ParseMetaString(src.MetaString()); err != nil {
		t.Fatal(err)
	}
	if dst.Meta("x y") != "a&b" || dst.Meta(MetaDataType) != "text/plain" {
		t.Errorf("parsed meta = %q", dst.MetaString())
	}
	if err := dst.ParseMetaString("bad=%zz"); err == nil {
		t.Error("ParseMetaString accepted an invalid escape")
	}
}

func TestEntityMetaAsInt(t *testing.T) {
	e := NewEntity().PutMeta(MetaDataLength, "1024")
	n, err := e.MetaAsInt(MetaDataLength)
	if err != nil || n != 1024 {
		t.Errorf("MetaAsInt() = %d, %v", n, err)
	}
	if _, err := e.MetaAsInt("missing"); err == nil {
		t.Error("MetaAsInt(missing) returned no error")
	}
}

func TestEntityBytesIsRepeatable(t *testing.T) {
	e := NewStringEntity("payload")
	for i := 0; i < 2; i++ {
		if got := e.String(); got != "payload" {
			t.Errorf("String() #%d = %q", i, got)
		}
	}
	b, err := io.ReadAll(e.Data())
	if err != nil || string(b) != "payload" {
		t.Errorf("Data() after drain = %q, %v", b, err)
	}
}

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestEntityReleaseClosesStream(t *testing.T) {
	rc := &closeRecorder{Reader: bytes.NewReader([]byte("abc"))}
	e := NewReaderEntity(rc, 3)
	if err := e.Release(); err != nil {
		t.Fatal(err)
	}
	if !rc.closed {
		t.Error("Release() did not close the stream")
	}
}

func TestFileEntity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.bin")
	if err := os.WriteFile(path, []byte("file-data"), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := NewFileEntity(path)
	if err != nil {
		t.Fatal(err)
	}
	if e.DataSize() != 9 {
		t.Errorf("DataSize() = %d, want 9", e.DataSize())
	}
	if e.Meta(MetaDataDispositionFilename) != "report.bin" {
		t.Errorf("filename meta = %q", e.Meta(MetaDataDispositionFilename))
	}
	if e.String() != "file-data" {
		t.Errorf("String() = %q", e.String())
	}

	if _, err := NewFileEntity(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewFileEntity(missing) returned no error")
	}
}

func TestEntityAtAndWithData(t *testing.T) {
	e := NewStringEntity("x").At("room*")
	if e.Meta(MetaAt) != "room*" {
		t.Errorf("At() meta = %q", e.Meta(MetaAt))
	}
	c := e.WithData(bytes.NewReader([]byte("yz")), 2)
	if c.Meta(MetaAt) != "room*" || c.String() != "yz" {
		t.Errorf("WithData() = meta %q data %q", c.MetaString(), c.String())
	}
	if e.String() != "x" {
		t.Error("WithData() changed the source entity")
	}
}
