package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewTimedID returns prefix_<unix millis>_<random>. The random suffix keeps two ids
// minted in the same millisecond distinct.
func NewTimedID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}
