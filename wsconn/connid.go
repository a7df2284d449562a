package wsconn

import (
	"crypto/rand"
	"encoding/hex"
)

// generateConnID mirrors the teacher's internal/websocket connection-id
// scheme: 16 random bytes, hex-encoded.
func generateConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// the teacher's own generateConnID treats this the same way.
		panic("wsconn: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
