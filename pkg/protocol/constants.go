package protocol

// Version is the protocol version advertised in Connect and Connack frames.
const Version = "2.1.0"

// DefaultPort is used when a connection URL does not name a port.
const DefaultPort = 8602

// URLPrefix is the optional scheme prefix of connection URLs ("sd:tcp://...").
const URLPrefix = "sd:"

// Reserved entity meta keys.
const (
	// MetaVersion carries the protocol version on handshake frames.
	MetaVersion = "SocketD"

	// MetaDataLength is the total payload length; required on the first
	// fragment of a chunked payload.
	MetaDataLength = "Data-Length"

	// MetaDataType describes the payload content type.
	MetaDataType = "Data-Type"

	// MetaDataFragmentIdx is the 0-based index of a fragment.
	MetaDataFragmentIdx = "Data-Fragment-Idx"

	// MetaDataDispositionFilename names the file a payload was read from.
	MetaDataDispositionFilename = "Data-Disposition-Filename"

	// MetaRangeStart and MetaRangeSize negotiate partial content.
	MetaRangeStart = "Data-Range-Start"
	MetaRangeSize  = "Data-Range-Size"

	// MetaAt addresses a named peer ("name") or a peer group ("name*").
	MetaAt = "@"
)

// ParamName is the handshake parameter that names a peer.
const ParamName = "@"

// Channel close codes. Zero means the channel is open.
const (
	CloseNone            = 0
	CloseProtocol        = 1 // Orderly protocol-level close
	CloseProtocolIllegal = 2 // Illegal frame received
	CloseError           = 3 // Error or authorization failure
)

// CloseCodeString returns a human readable name for a close code.
func CloseCodeString(code int) string {
	switch code {
	case CloseNone:
		return "Open"
	case CloseProtocol:
		return "Protocol"
	case CloseProtocolIllegal:
		return "ProtocolIllegal"
	case CloseError:
		return "Error"
	default:
		return "Unknown"
	}
}
