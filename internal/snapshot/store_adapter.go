package snapshot

import (
	"fmt"
	"strings"

	"github.com/kvsd/kvsd/internal/store"
)

// StoreSnapshot adapts a *store.Store to SnapshotSource, rendering it
// in SHOW's exact text format.
type StoreSnapshot struct {
	Store *store.Store
}

// RenderSnapshot implements SnapshotSource.
func (s StoreSnapshot) RenderSnapshot() []byte {
	var sb strings.Builder
	for _, p := range s.Store.Show() {
		fmt.Fprintf(&sb, "(%s, %s)\n", p.Key, p.Value)
	}
	return []byte(sb.String())
}
