package gpuchan

// MaxAcquireEntries is the number of acquired values stored per push.
// Further acquires are only counted.
const MaxAcquireEntries = 32

// AcquireValue identifies a tracking value of another channel that a push
// waited on.
type AcquireValue struct {
	GPU       uint32 `msgpack:"gpu"`
	RunlistID uint32 `msgpack:"runlist"`
	ChannelID uint32 `msgpack:"channel"`
	Value     uint64 `msgpack:"value"`
}

// PushInfo is the origin metadata of one push.
type PushInfo struct {
	Description string
	File        string
	Line        int
	Function    string

	// OnComplete runs once the push's ring entry is reclaimed as completed.
	OnComplete func()

	// Acquires holds up to MaxAcquireEntries acquired values;
	// NumAcquires counts all of them.
	Acquires    []AcquireValue
	NumAcquires uint32
}

// reset clears the slot for reuse, keeping the acquire storage.
func (p *PushInfo) reset() {
	acq := p.Acquires[:0]
	*p = PushInfo{Acquires: acq}
}

// pushSlotTable is a fixed arena of PushInfo records with a FIFO queue of
// free indices. Freed slots go to the back of the queue so the metadata of
// recently finished pushes survives as long as possible for diagnostics.
//
// Callers serialise access with the owning pool lock.
type pushSlotTable struct {
	slots []PushInfo
	free  []int32 // circular queue of free indices
	head  int
	n     int
}

// newPushSlotTable creates a table of size slots, all free.
func newPushSlotTable(size int) *pushSlotTable {
	t := &pushSlotTable{
		slots: make([]PushInfo, size),
		free:  make([]int32, size),
		n:     size,
	}
	for i := range t.free {
		t.free[i] = int32(i) //nolint:gosec // G115: size bounded by MaxGPFIFOEntries
	}
	return t
}

// alloc takes the oldest free slot. It reports false when none is free.
func (t *pushSlotTable) alloc() (int, bool) {
	if t.n == 0 {
		return -1, false
	}
	idx := t.free[t.head]
	t.head = (t.head + 1) % len(t.free)
	t.n--
	return int(idx), true
}

// release returns slot i to the back of the free queue.
func (t *pushSlotTable) release(i int) {
	if t.n == len(t.free) {
		panic("gpuchan: push slot released twice")
	}
	t.slots[i].reset()
	tail := (t.head + t.n) % len(t.free)
	t.free[tail] = int32(i) //nolint:gosec // G115: i < len(slots)
	t.n++
}

// get returns slot i.
func (t *pushSlotTable) get(i int) *PushInfo {
	return &t.slots[i]
}

// available returns the number of free slots.
func (t *pushSlotTable) available() int {
	return t.n
}
