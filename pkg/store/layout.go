package store

import "github.com/ssargent/roomdb/pkg/memory"

// Partition ids are part of the file format. Never renumber them; add new
// partitions at the end.
const (
	CounterPartition memory.PartitionID = 0
	RoomsPartition   memory.PartitionID = 1
)

var partitionTable = []struct {
	id   memory.PartitionID
	name string
}{
	{CounterPartition, "id-counter"},
	{RoomsPartition, "rooms"},
}

// PartitionName returns the registered name of id, or "" if it has none.
func PartitionName(id memory.PartitionID) string {
	for _, p := range partitionTable {
		if p.id == id {
			return p.name
		}
	}
	return ""
}
