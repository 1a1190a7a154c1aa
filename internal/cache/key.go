package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const DefaultQuality = 80

// Key identifies a processed artifact by the normalized request parameters.
//
// Zero Width and Height mean "not specified", a zero Quality is replaced
// with DefaultQuality, so that omitting a parameter and passing its default
// explicitly yield the same key.
type Key struct {
	Source  string
	Width   uint32
	Height  uint32
	Quality int
}

// Uploaded and remote images live in disjoint namespaces, so that
// no URL can ever address an uploaded image and vice versa.
const (
	sourcePrefixUpload = "upload:sha256:"
	sourcePrefixURL    = "url:"
)

// SourceFromBytes derives a Source for uploaded images.
func SourceFromBytes(data []byte) string {
	hash := sha256.Sum256(data)

	return sourcePrefixUpload + hex.EncodeToString(hash[:])
}

// SourceFromURL derives a Source for remote images.
func SourceFromURL(rawURL string) string {
	return sourcePrefixURL + strings.TrimSpace(rawURL)
}

func (k Key) Normalize() Key {
	k.Source = strings.TrimSpace(k.Source)

	if k.Quality == 0 {
		k.Quality = DefaultQuality
	}

	return k
}

// String renders the key as "resize:<source>:w=<width>:h=<height>:q=<quality>".
func (k Key) String() string {
	k = k.Normalize()

	return fmt.Sprintf("resize:%s:w=%d:h=%d:q=%d", k.Source, k.Width, k.Height, k.Quality)
}
