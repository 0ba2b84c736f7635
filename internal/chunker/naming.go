package chunker

import (
	"crypto/rand"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength   = 6
)

// Namer generates storage keys for chunks. Names combine the original base
// name, a millisecond timestamp, a random token and the chunk position so
// keys never collide and list lexically in chunk order.
type Namer struct {
	now   func() time.Time
	token func() string
}

func NewNamer() *Namer {
	return &Namer{now: time.Now, token: randomToken}
}

// NewNamerWith returns a Namer using the given clock and token source.
// Nil arguments fall back to the wall clock and random tokens.
func NewNamerWith(now func() time.Time, token func() string) *Namer {
	n := NewNamer()
	if now != nil {
		n.now = now
	}
	if token != nil {
		n.token = token
	}
	return n
}

// Name returns the storage name for chunk index (0-based) of totalChunks.
// A file stored as a single chunk gets no position segment.
func (n *Namer) Name(originalFileName string, index, totalChunks int) string {
	ext := path.Ext(originalFileName)
	ts := n.now().UnixMilli()
	token := n.token()

	if totalChunks <= 1 {
		return fmt.Sprintf("%d_%s%s", ts, token, ext)
	}

	base := strings.TrimSuffix(originalFileName, ext)
	return fmt.Sprintf("%s_%d_%s_chunk%03dof%03d%s", base, ts, token, index+1, totalChunks, ext)
}

func randomToken() string {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf)
}
