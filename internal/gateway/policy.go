package gateway

import "github.com/Copilotuser-cyber/ChatPDT/internal/model"

// Policy is the write policy of a collection.
type Policy int

const (
	// Replace writes the whole record; the caller read-modify-writes.
	Replace Policy = iota
	// Merge overlays the written top-level fields onto the stored record.
	Merge
)

func (p Policy) String() string {
	if p == Merge {
		return "merge"
	}
	return "replace"
}

// policies is last-write-wins throughout: no versions, no vector clocks,
// no concurrency tokens. Two writers to one record race.
var policies = map[string]Policy{
	model.CollectionUsers:          Replace,
	model.CollectionChats:          Replace,
	model.CollectionGames:          Replace,
	model.CollectionCommunityPosts: Replace,
	model.CollectionOverrides:      Merge,
}

// PolicyFor returns the write policy of collection. Unknown collections
// are replaced.
func PolicyFor(collection string) Policy {
	return policies[collection]
}
