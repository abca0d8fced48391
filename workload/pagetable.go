package workload

import (
	"encoding/binary"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"
	"go.uber.org/atomic"
)

const (
	PageShift = 12
	PageSize  = uint64(1) << PageShift

	// PhysBase is where the page table places the first mapped frame
	PhysBase = uint64(0x80000000)
)

// PageTable maps guest virtual pages to physical frames. Readers look up
// the current immutable tree without locking; MapRange publishes a new tree.
type PageTable struct {
	lock sync.Mutex
	root atomic.Pointer[iradix.Tree]
	next atomic.Uint64
}

func NewPageTable() *PageTable {
	pt := &PageTable{}
	pt.root.Store(iradix.New())
	pt.next.Store(PhysBase >> PageShift)

	return pt
}

func pageKey(page uint64) []byte {
	var key [8]byte

	binary.BigEndian.PutUint64(key[:], page)

	return key[:]
}

// MapRange maps every page of [start, end) that is not mapped yet to
// consecutive frames
func (pt *PageTable) MapRange(start, end uint64) {
	if end <= start {
		return
	}

	pt.lock.Lock()
	defer pt.lock.Unlock()

	txn := pt.root.Load().Txn()

	for page := start >> PageShift; page <= (end-1)>>PageShift; page++ {
		key := pageKey(page)
		if _, ok := txn.Get(key); ok {
			continue
		}

		txn.Insert(key, pt.next.Inc()-1)
	}

	pt.root.Store(txn.Commit())
}

// Translate returns the physical address of vaddr when its page is mapped
func (pt *PageTable) Translate(vaddr uint64) (uint64, bool) {
	frame, ok := pt.root.Load().Get(pageKey(vaddr >> PageShift))
	if !ok {
		return 0, false
	}

	return frame.(uint64)<<PageShift | vaddr&(PageSize-1), true //nolint:forcetypeassert
}

// PhysAddr resolves instruction addresses for the tracer
func (pt *PageTable) PhysAddr(_ uint32, vaddr uint64) (uint64, bool) {
	return pt.Translate(vaddr)
}

// Pages returns the number of mapped pages
func (pt *PageTable) Pages() int {
	return pt.root.Load().Len()
}
