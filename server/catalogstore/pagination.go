package catalogstore

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gear6io/icecatalog/pkg/errors"
)

// PageCursor encodes (created_at, id): stable under concurrent inserts because both
// components are monotonic within a single backing index.
type PageCursor struct {
	CreatedAt time.Time
	ID        string
}

func (c PageCursor) Encode() string {
	if c.ID == "" {
		return ""
	}
	raw := fmt.Sprintf("%d\x1f%s", c.CreatedAt.UnixNano(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (PageCursor, error) {
	if s == "" {
		return PageCursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return PageCursor{}, errors.Wrap(errors.CommonInvalidInput, err, "malformed page token")
	}
	parts := strings.SplitN(string(raw), "\x1f", 2)
	if len(parts) != 2 {
		return PageCursor{}, errors.New(errors.CommonInvalidInput, "malformed page token")
	}
	nanos, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return PageCursor{}, errors.Wrap(errors.CommonInvalidInput, err, "malformed page token")
	}
	return PageCursor{CreatedAt: time.Unix(0, nanos), ID: parts[1]}, nil
}

// Page is the result of one cursor-paginated list call.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// DefaultPageSize and MaxPageSize bound list-paginated calls across every
// entity type.
const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

func clampPageSize(requested int) int {
	if requested <= 0 {
		return DefaultPageSize
	}
	if requested > MaxPageSize {
		return MaxPageSize
	}
	return requested
}
