package partition

import (
	"github.com/buraksezer/consistent"
	"github.com/spaolacci/murmur3"
)

type hasher struct{}

func (h hasher) Sum64(data []byte) uint64 {
	return murmur3.Sum64(data)
}

type member string

func (m member) String() string {
	return string(m)
}

// Ring maps keys to a fixed set of partitions. Work for the same key always
// lands on the same partition, which is how per-conversation advancement stays
// single-writer.
type Ring struct {
	partitionCount int
	hring          *consistent.Consistent
}

func NewRing(partitionCount int) *Ring {
	cfg := consistent.Config{
		PartitionCount:    partitionCount,
		ReplicationFactor: 20,
		Load:              1.25,
		Hasher:            hasher{},
	}
	hr := consistent.New([]consistent.Member{member("local")}, cfg)
	return &Ring{
		partitionCount: partitionCount,
		hring:          hr,
	}
}

func (r *Ring) GetPartition(key string) int {
	return r.hring.FindPartitionID([]byte(key))
}

func (r *Ring) PartitionCount() int {
	return r.partitionCount
}
