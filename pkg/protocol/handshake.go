package protocol

import (
	"net/url"
	"strings"
)

// Handshake is the parsed payload of a Connect or Connack message.
// It is immutable once built and lives as long as its channel.
type Handshake struct {
	uri     *url.URL
	version string
	params  map[string]string
	source  *Message
}

// NewHandshake parses the handshake carried by a Connect/Connack message.
func NewHandshake(msg *Message) (*Handshake, error) {
	if msg == nil {
		return nil, NewCodecError("handshake without message", nil)
	}

	raw := strings.TrimPrefix(msg.Event(), URLPrefix)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, NewCodecError("invalid handshake url", err)
	}

	h := &Handshake{
		uri:     u,
		version: msg.Meta(MetaVersion),
		params:  make(map[string]string),
		source:  msg,
	}

	// Later duplicates win; keys without "=" map to "".
	for _, kv := range strings.Split(u.RawQuery, "&") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		if key, err := url.QueryUnescape(k); err == nil {
			k = key
		}
		if val, err := url.QueryUnescape(v); err == nil {
			v = val
		}
		h.params[k] = v
	}

	return h, nil
}

// URI returns the connection URL.
func (h *Handshake) URI() *url.URL {
	u := *h.uri
	return &u
}

// Scheme returns the transport scheme (tcp, ws, ...).
func (h *Handshake) Scheme() string { return h.uri.Scheme }

// Path returns the URL path.
func (h *Handshake) Path() string { return h.uri.Path }

// Version returns the peer's protocol version.
func (h *Handshake) Version() string { return h.version }

// Param returns a handshake parameter or "".
func (h *Handshake) Param(name string) string { return h.params[name] }

// ParamOrDefault returns a handshake parameter or def when absent.
func (h *Handshake) ParamOrDefault(name, def string) string {
	if v, ok := h.params[name]; ok {
		return v
	}
	return def
}

// Params returns a copy of all handshake parameters.
func (h *Handshake) Params() map[string]string {
	out := make(map[string]string, len(h.params))
	for k, v := range h.params {
		out[k] = v
	}
	return out
}

// Message returns the Connect/Connack message the handshake came from.
func (h *Handshake) Message() *Message { return h.source }
