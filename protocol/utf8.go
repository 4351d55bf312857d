package protocol

import "unicode/utf8"

// IsValidUTF8 validates a fully reassembled text-message payload before
// delivery to a message handler. The fragment assembler always
// reassembles a complete message before validating, both on its fast
// and slow paths, never mid-frame, so a single utf8.Valid call suffices;
// unicode/utf8 is the same package gorilla-websocket's util.go reaches
// for, and no third-party incremental UTF-8 validator is warranted here.
func IsValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
