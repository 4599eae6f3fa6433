package event

import "strings"

// MaxIDLength bounds every identifier.
const MaxIDLength = 255

// hashIDLength is the length of an unpadded base64 SHA-256 digest.
const hashIDLength = 43

// ValidEventID reports whether id is syntactically an event id: either the
// "$opaque:server" form or the "$" + base64 reference hash form.
func ValidEventID(id string) bool {
	if !validSigilID(id, '$') {
		return false
	}
	body := id[1:]
	if strings.IndexByte(body, ':') >= 0 {
		return validServerPart(body)
	}
	if len(body) != hashIDLength && len(body) != hashIDLength+1 {
		return false
	}
	for i := 0; i < len(body); i++ {
		if !isBase64Char(body[i]) {
			return false
		}
	}
	return true
}

// ValidRoomID reports whether id has the "!opaque:server" form.
func ValidRoomID(id string) bool {
	return validSigilID(id, '!') && validServerPart(id[1:])
}

// ValidUserID reports whether id has the "@localpart:server" form.
func ValidUserID(id string) bool {
	return validSigilID(id, '@') && validServerPart(id[1:])
}

// ServerName returns the part of a sigil id after the first colon, or "".
func ServerName(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return ""
}

func validSigilID(id string, sigil byte) bool {
	if len(id) < 2 || len(id) > MaxIDLength || id[0] != sigil {
		return false
	}
	for i := 1; i < len(id); i++ {
		if id[i] <= ' ' || id[i] == 0x7f {
			return false
		}
	}
	return true
}

func validServerPart(body string) bool {
	i := strings.IndexByte(body, ':')
	return i > 0 && i < len(body)-1
}

func isBase64Char(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+', c == '/', c == '-', c == '_':
		return true
	}
	return false
}
