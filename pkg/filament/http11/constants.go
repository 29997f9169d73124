package http11

// Size caps applied while a request head is being buffered. A client that
// exceeds them is answered before the parser commits any more memory.
// 8KB for the request line and 8KB for the header section follow the RFC 7230
// recommendations.
const (
	MaxRequestLineSize = 8 * 1024
	MaxHeadersSize     = 8 * 1024
	MaxURILength       = 4 * 1024

	// MaxChunkLineSize bounds a chunk-size line (hex digits plus extensions).
	MaxChunkLineSize = 256
)

// Method IDs for O(1) dispatch switching. The string forms are returned by
// MethodString.
const (
	MethodUnknown uint8 = iota
	MethodGET
	MethodHEAD
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodOPTIONS
	MethodPATCH
	MethodTRACE
	MethodCONNECT
)

// Protocol version tokens accepted on the request line.
const (
	ProtoHTTP10 = "HTTP/1.0"
	ProtoHTTP11 = "HTTP/1.1"
)

// Singular request headers the parser tracks while scanning the header
// section.
const (
	headerHost             = "host"
	headerContentLength    = "content-length"
	headerTransferEncoding = "transfer-encoding"
	headerConnection       = "connection"
)

// StatusText returns the reason phrase for the status codes the engine
// produces. Unknown codes get a generic phrase rather than an empty string so
// a status line is always well formed.
func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 408:
		return "Request Timeout"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return "Status"
	}
}
