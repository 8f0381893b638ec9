package sender

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// checksumNamespace is the fixed DCE namespace Checksum and
// GenerateConversationID hash into, making both order-independent and
// reproducible across instances.
var checksumNamespace = uuid.Nil

// md5UUID renders a version-3 UUID from the sorted, concatenated ids.
func md5UUID(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return uuid.NewMD5(checksumNamespace, []byte(strings.Join(sorted, ""))).String()
}

// Checksum computes a conversation's checksum from its member session ids.
// The result changes whenever the session id set changes and is invariant
// under reordering.
func Checksum(sessionIDs []string) string {
	return md5UUID(sessionIDs)
}

// GenerateConversationID derives a deterministic conversation id from a set
// of participant ids, independent of argument order.
func GenerateConversationID(userIDs []string) string {
	return md5UUID(userIDs)
}
