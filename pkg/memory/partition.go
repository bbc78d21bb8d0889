package memory

// Partition is one managed region of a Manager's memory. It implements
// Memory, so consumers treat it as a dedicated space starting at offset 0.
type Partition struct {
	m  *Manager
	id PartitionID
}

var _ Memory = (*Partition)(nil)

// ID returns the partition id.
func (p *Partition) ID() PartitionID {
	return p.id
}

func (p *Partition) Size() uint64 {
	return p.m.size(p.id)
}

func (p *Partition) Grow(pages uint64) (uint64, error) {
	return p.m.grow(p.id, pages)
}

func (p *Partition) Read(off uint64, dst []byte) error {
	return p.m.access(p.id, off, dst, p.m.mem.Read)
}

func (p *Partition) Write(off uint64, src []byte) error {
	return p.m.access(p.id, off, src, p.m.mem.Write)
}

// Sync flushes the whole underlying memory, not just this partition.
func (p *Partition) Sync() error {
	return p.m.Sync()
}
