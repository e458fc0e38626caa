package beacon

// SentinelRSSI is reported by beacon firmware when no fresh reading exists.
const SentinelRSSI = 127

// Deduplicator replaces sentinel readings with the last real reading seen for
// the same beacon name. It is not safe for concurrent use; the scanner calls it
// from its dispatch loop only.
type Deduplicator struct {
	last map[string]int
}

func NewDeduplicator() *Deduplicator {
	return &Deduplicator{last: make(map[string]int)}
}

// Process returns the sighting to forward, or false if it should be dropped.
func (d *Deduplicator) Process(in Info) (Info, bool) {
	if in.RSSI != SentinelRSSI {
		d.last[in.Name] = in.RSSI
		return in, true
	}

	rssi, ok := d.last[in.Name]
	if !ok {
		return Info{}, false
	}
	return Info{Name: in.Name, RSSI: rssi}, true
}
