// Package retention decides which remote versions to delete after a
// successful push.
package retention

import "datadb/internal/transport"

// Prune returns the versions to delete so that only the keep newest remain.
// keep <= 0 disables retention entirely rather than deleting everything. The
// input is not mutated and may arrive in any order; candidates come back
// oldest first.
func Prune(versions []transport.Version, keep int) []transport.Version {
	if keep <= 0 || len(versions) <= keep {
		return nil
	}
	vs := make([]transport.Version, len(versions))
	copy(vs, versions)
	transport.SortVersions(vs)
	return vs[:len(vs)-keep]
}
