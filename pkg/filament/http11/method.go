package http11

// ParseMethodID converts a method token to its numeric ID without allocating.
// Length is checked first so most candidates are rejected on a single
// comparison.
func ParseMethodID(method []byte) uint8 {
	switch len(method) {
	case 3:
		if method[0] == 'G' && method[1] == 'E' && method[2] == 'T' {
			return MethodGET
		}
		if method[0] == 'P' && method[1] == 'U' && method[2] == 'T' {
			return MethodPUT
		}
	case 4:
		if method[0] == 'P' && method[1] == 'O' && method[2] == 'S' && method[3] == 'T' {
			return MethodPOST
		}
		if method[0] == 'H' && method[1] == 'E' && method[2] == 'A' && method[3] == 'D' {
			return MethodHEAD
		}
	case 5:
		if string(method) == "PATCH" {
			return MethodPATCH
		}
		if string(method) == "TRACE" {
			return MethodTRACE
		}
	case 6:
		if string(method) == "DELETE" {
			return MethodDELETE
		}
	case 7:
		if string(method) == "OPTIONS" {
			return MethodOPTIONS
		}
		if string(method) == "CONNECT" {
			return MethodCONNECT
		}
	}
	return MethodUnknown
}

// MethodString returns the canonical token for a method ID.
func MethodString(id uint8) string {
	switch id {
	case MethodGET:
		return "GET"
	case MethodHEAD:
		return "HEAD"
	case MethodPOST:
		return "POST"
	case MethodPUT:
		return "PUT"
	case MethodDELETE:
		return "DELETE"
	case MethodOPTIONS:
		return "OPTIONS"
	case MethodPATCH:
		return "PATCH"
	case MethodTRACE:
		return "TRACE"
	case MethodCONNECT:
		return "CONNECT"
	default:
		return ""
	}
}
