package collect

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used for every origin not listed in legacyEncodings.
const DefaultEncoding = "utf-8"

// legacyEncodings maps an origin marker found in a feed URL to the 8-bit
// encoding that origin serves its feed in, whatever its prolog claims.
var legacyEncodings = []struct {
	marker   string
	encoding string
}{
	{marker: "marebpress", encoding: "windows-1256"},
}

// ResolveEncoding returns the encoding name needed to read the feed at
// feedURL. Unknown origins resolve to UTF-8.
func ResolveEncoding(feedURL string) string {
	lower := strings.ToLower(feedURL)
	for _, l := range legacyEncodings {
		if strings.Contains(lower, l.marker) {
			return l.encoding
		}
	}
	return DefaultEncoding
}

var xmlDeclEncoding = regexp.MustCompile(`(?i)(<\?xml[^>]*?encoding\s*=\s*["'])[^"']*(["'])`)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeFeed converts raw feed bytes in the named encoding to UTF-8 and
// rewrites the XML declaration so the parser does not decode a second time.
func decodeFeed(raw []byte, encoding string) (string, error) {
	var text string
	if strings.EqualFold(encoding, DefaultEncoding) || encoding == "" {
		text = string(bytes.TrimPrefix(raw, utf8BOM))
	} else {
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return "", fmt.Errorf("unknown encoding %q: %w", encoding, err)
		}
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decoding %s: %w", encoding, err)
		}
		text = string(decoded)
	}
	return xmlDeclEncoding.ReplaceAllString(text, "${1}UTF-8${2}"), nil
}
