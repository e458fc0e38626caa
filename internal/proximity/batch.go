package proximity

import (
	"slices"
	"strconv"
	"strings"

	"github.com/DoyleJ11/jetfinder/internal/beacon"
)

// Compact keeps the most recent usable reading per beacon, newest first.
// Readings at or above 0 dBm are noise.
func Compact(batch []beacon.Info) []beacon.Info {
	out := make([]beacon.Info, 0, len(batch))
	for _, info := range slices.Backward(batch) {
		if info.RSSI >= 0 {
			continue
		}
		if slices.ContainsFunc(out, func(o beacon.Info) bool { return o.Name == info.Name }) {
			continue
		}
		out = append(out, info)
	}
	return out
}

// Encode renders a batch the way the proximity endpoint expects it:
// "name:rssi" pairs joined by commas.
func Encode(batch []beacon.Info) string {
	var sb strings.Builder
	for i, info := range batch {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(info.Name)
		sb.WriteByte(':')
		sb.WriteString(strconv.Itoa(info.RSSI))
	}
	return sb.String()
}
