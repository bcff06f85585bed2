package qr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"
)

// Token builds the redemption payload for a ticket row. The row id is the
// only authoritative part; the kind tag after the colon is advisory, for a
// human reading the scanner output. Redemption always re-reads the store.
func Token(rowID int64, kind string) string {
	if kind == "" {
		return strconv.FormatInt(rowID, 10)
	}
	return fmt.Sprintf("%d:%s", rowID, kind)
}

// Parse extracts the authoritative row id from a token, ignoring everything
// after the first colon and an optional "QR:" scheme prefix. bare reports a
// plain number with neither prefix nor kind tag; only that shape is eligible
// for the scanner's legacy buyer-id fallback.
func Parse(token string) (rowID int64, bare bool, ok bool) {
	trimmed := strings.TrimSpace(token)
	stripped := strings.TrimPrefix(trimmed, "QR:")
	hadPrefix := stripped != trimmed

	idPart := stripped
	hadSuffix := false
	if i := strings.Index(stripped, ":"); i >= 0 {
		idPart = stripped[:i]
		hadSuffix = true
	}

	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, false, false
	}
	return id, !hadPrefix && !hadSuffix, true
}

// Generator renders redemption tokens as QR PNGs.
type Generator struct {
	size int
}

func NewGenerator() *Generator {
	return &Generator{size: 256}
}

func (g *Generator) PNG(rowID int64, kind string) ([]byte, error) {
	return qrcode.Encode(Token(rowID, kind), qrcode.Medium, g.size)
}
