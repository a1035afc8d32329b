package domain

import (
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a prefixed, monotonically-sortable opaque identifier, e.g.
// "gst_01HZY3C2E4X9Q7K8N5M6P7R8S9".
func NewID(prefix string) string {
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return prefix + "_" + id.String()
}

// ID prefixes for each entity kind.
const (
	PrefixGuest        = "gst"
	PrefixReservation  = "res"
	PrefixConversation = "conv"
	PrefixMessage      = "msg"
	PrefixTask         = "task"
	PrefixRule         = "rule"
	PrefixExecution    = "exec"
	PrefixApp          = "app"
	PrefixAudit        = "audit"
	PrefixKnowledge    = "know"
)
