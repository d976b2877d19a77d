package gpuchan

import (
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// DefaultFinishedPushes is the number of finished pushes included in a
// channel dump for context, as long as their ring entries were not
// reclaimed yet.
const DefaultFinishedPushes = 5

// ChannelInfo is the state block of one channel.
type ChannelInfo struct {
	Name           string `msgpack:"name"`
	Engine         uint32 `msgpack:"ce"`
	Proxy          bool   `msgpack:"proxy"`
	Completed      uint64 `msgpack:"completed"`
	Queued         uint64 `msgpack:"queued"`
	GPFIFOCount    uint32 `msgpack:"gpfifo_count"`
	GPFIFOLocation string `msgpack:"gpfifo_loc"`
	GPPutLocation  string `msgpack:"gpput_loc"`
	Get            uint32 `msgpack:"get"`
	Put            uint32 `msgpack:"put"`
	SemaphoreVA    uint64 `msgpack:"semaphore_va"`
}

// PushRecord describes one push still present in a channel's ring.
type PushRecord struct {
	Description string         `msgpack:"description"`
	File        string         `msgpack:"file"`
	Line        int            `msgpack:"line"`
	Function    string         `msgpack:"function"`
	Value       uint64         `msgpack:"value"`
	Finished    bool           `msgpack:"finished"`
	Acquires    []AcquireValue `msgpack:"acquires,omitempty"`
	NumAcquires uint32         `msgpack:"num_acquires,omitempty"`
}

// ChannelSnapshot is the state of one channel and its pushes.
type ChannelSnapshot struct {
	Info   ChannelInfo  `msgpack:"info"`
	Pushes []PushRecord `msgpack:"pushes"`
}

// Snapshot is a point-in-time dump of a manager.
type Snapshot struct {
	GPU      string            `msgpack:"gpu"`
	Fatal    string            `msgpack:"fatal,omitempty"`
	Channels []ChannelSnapshot `msgpack:"channels"`
}

// Info returns the state block of the channel.
func (c *Channel) Info() ChannelInfo {
	m := c.manager()
	completed := c.tracking.UpdateCompletedValue()

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	return ChannelInfo{
		Name:           c.name,
		Engine:         c.pool.ceIndex,
		Proxy:          c.pool.proxy,
		Completed:      completed,
		Queued:         c.tracking.QueuedValue(),
		GPFIFOCount:    c.numEntries,
		GPFIFOLocation: m.conf.GPFIFOLocation.String(),
		GPPutLocation:  m.conf.GPPutLocation.String(),
		Get:            c.gpuGet,
		Put:            c.cpuPut,
		SemaphoreVA:    c.tracking.sem.GPUVA(c.pool.proxy),
	}
}

// Pushes returns every pending push of the channel in submission order,
// plus up to finished of the most recently finished ones whose ring
// entries have not been reclaimed yet.
func (c *Channel) Pushes(finished uint32) []PushRecord {
	completed := c.tracking.UpdateCompletedValue()

	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()

	var out []PushRecord
	for get := c.gpuGet; get != c.cpuPut; get = (get + 1) % c.numEntries {
		entry := &c.entries[get]
		if entry.trackingValue+uint64(finished) <= completed {
			continue
		}
		info := c.slots.get(entry.slot)
		rec := PushRecord{
			Description: info.Description,
			File:        info.File,
			Line:        info.Line,
			Function:    info.Function,
			Value:       entry.trackingValue,
			Finished:    entry.trackingValue <= completed,
			NumAcquires: info.NumAcquires,
		}
		if len(info.Acquires) > 0 {
			rec.Acquires = append([]AcquireValue(nil), info.Acquires...)
		}
		out = append(out, rec)
	}
	return out
}

// PrintInfo writes the channel state block to w.
func (c *Channel) PrintInfo(w io.Writer) error {
	var b strings.Builder
	writeInfo(&b, c.Info())
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintPushes writes the pending pushes of the channel and up to finished
// finished ones to w.
func (c *Channel) PrintPushes(w io.Writer, finished uint32) error {
	var b strings.Builder
	writePushes(&b, c.Pushes(finished))
	_, err := io.WriteString(w, b.String())
	return err
}

// PrintPendingPushes writes the pending pushes of every channel to w.
func (m *Manager) PrintPendingPushes(w io.Writer) error {
	var b strings.Builder
	for _, pool := range m.pools {
		for _, c := range pool.channels {
			fmt.Fprintf(&b, "Channel %s, pending pushes:\n", c.name)
			writePushes(&b, c.Pushes(0))
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Snapshot captures the state and pushes of every channel, including
// DefaultFinishedPushes finished pushes per channel.
func (m *Manager) Snapshot() *Snapshot {
	s := &Snapshot{GPU: m.platform.Name}
	if err := m.errs.Err(); err != nil {
		s.Fatal = err.Error()
	}
	for _, pool := range m.pools {
		for _, c := range pool.channels {
			s.Channels = append(s.Channels, ChannelSnapshot{
				Info:   c.Info(),
				Pushes: c.Pushes(DefaultFinishedPushes),
			})
		}
	}
	return s
}

// Encode writes s to w in MessagePack.
func (s *Snapshot) Encode(w io.Writer) error {
	if err := msgpack.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("gpuchan: encode snapshot: %w", err)
	}
	return nil
}

// DecodeSnapshot reads a snapshot written by Snapshot.Encode.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("gpuchan: decode snapshot: %w", err)
	}
	return &s, nil
}

// WriteText writes s in the same layout as PrintInfo and PrintPushes.
func (s *Snapshot) WriteText(w io.Writer) error {
	var b strings.Builder
	if s.Fatal != "" {
		fmt.Fprintf(&b, "Fatal error: %s\n", s.Fatal)
	}
	for i := range s.Channels {
		writeInfo(&b, s.Channels[i].Info)
		writePushes(&b, s.Channels[i].Pushes)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeInfo(b *strings.Builder, info ChannelInfo) {
	fmt.Fprintf(b, "Channel %s\n", info.Name)
	fmt.Fprintf(b, "completed          %d\n", info.Completed)
	fmt.Fprintf(b, "queued             %d\n", info.Queued)
	fmt.Fprintf(b, "GPFIFO count       %d\n", info.GPFIFOCount)
	fmt.Fprintf(b, "GPFIFO location    %s\n", info.GPFIFOLocation)
	fmt.Fprintf(b, "GPPUT location     %s\n", info.GPPutLocation)
	fmt.Fprintf(b, "get                %d\n", info.Get)
	fmt.Fprintf(b, "put                %d\n", info.Put)
	fmt.Fprintf(b, "Semaphore GPU VA   0x%x\n", info.SemaphoreVA)
}

func writePushes(b *strings.Builder, pushes []PushRecord) {
	for i := range pushes {
		p := &pushes[i]
		state := "pending"
		if p.Finished {
			state = "finished"
		}
		fmt.Fprintf(b, " %s push '%s' started at %s:%d in %s() releasing value %d",
			state, p.Description, p.File, p.Line, p.Function, p.Value)

		for j, a := range p.Acquires {
			if j == 0 {
				b.WriteString(" acquiring values")
			}
			fmt.Fprintf(b, " gpu%d:channel%d:%d:value%d", a.GPU, a.RunlistID, a.ChannelID, a.Value)
		}
		if p.NumAcquires > MaxAcquireEntries {
			fmt.Fprintf(b, " (missing %d entries)", p.NumAcquires-MaxAcquireEntries)
		}
		b.WriteString("\n")
	}
}
