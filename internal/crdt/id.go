package crdt

// ID is a Lamport-clock-plus-replica identifier that gives every element
// inserted into an ordered sequence a stable, globally comparable
// position, the same scheme an RGA linked-list node uses for its own
// identity.
type ID struct {
	Clock   uint64
	Replica string
}

// Greater provides the total order used to resolve concurrent inserts after
// the same parent: higher clock wins, replica ID breaks ties.
func (a ID) Greater(b ID) bool {
	if a.Clock != b.Clock {
		return a.Clock > b.Clock
	}
	return a.Replica > b.Replica
}

var rootID = ID{Clock: 0, Replica: ""}
