// ABOUTME: Opaque cursor tokens marking pagination load boundaries
// ABOUTME: Encodes an engine sequence and reference as base64(sequence|ref)

package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/coven-chatsync/internal/event"
)

// EncodeCursor creates an opaque cursor string from a sequence and reference.
func EncodeCursor(sequence int64, ref string) string {
	data := fmt.Sprintf("%d|%s", sequence, ref)
	return base64.StdEncoding.EncodeToString([]byte(data))
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(cursor string) (int64, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor encoding: %w", err)
	}

	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid cursor format: expected sequence|ref")
	}

	seq, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor sequence: %w", err)
	}

	return seq, parts[1], nil
}

func cursorFor(r event.Record, ok bool) string {
	if !ok {
		return ""
	}
	return EncodeCursor(r.Sequence(), r.Ref())
}
