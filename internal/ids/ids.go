package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier, used for token ids
// (jti claims) so that spent-token records sort by issue time.
func New() string {
	return ulid.Make().String()
}
