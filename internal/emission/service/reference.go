package service

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	documentdomain "github.com/smallbiznis/emissor/internal/document/domain"
)

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newReference builds the per-attempt idempotency token presented to the
// gateway: kind tag, 8-char tenant prefix, base-36 timestamp and 6 random
// base-36 characters. It is persisted on the document before the network
// call so an interrupted attempt stays correlatable.
func newReference(kind documentdomain.DocumentKind, orgID snowflake.ID, now time.Time) string {
	tag := "nfe"
	if kind == documentdomain.KindService {
		tag = "nfse"
	}

	prefix := orgID.String()
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}

	return fmt.Sprintf("%s-%s-%s%s",
		tag,
		prefix,
		strconv.FormatInt(now.UnixMilli(), 36),
		randomBase36(6),
	)
}

func randomBase36(length int) string {
	buf := make([]byte, length)
	_, _ = rand.Read(buf)
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}
	return string(out)
}
