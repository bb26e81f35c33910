package timerange

import (
	"encoding/json"
	"time"
)

// Window is one symbolic time range. A zero Bucket means raw readings.
type Window struct {
	ID       string
	Label    string
	Duration time.Duration
	Bucket   time.Duration
}

// windows in display order
var windows = []Window{
	{ID: "5m", Label: "5 Minutes", Duration: 5 * time.Minute},
	{ID: "15m", Label: "15 Minutes", Duration: 15 * time.Minute},
	{ID: "30m", Label: "30 Minutes", Duration: 30 * time.Minute},
	{ID: "1h", Label: "1 Hour", Duration: time.Hour},
	{ID: "6h", Label: "6 Hours", Duration: 6 * time.Hour},
	{ID: "12h", Label: "12 Hours", Duration: 12 * time.Hour, Bucket: 5 * time.Minute},
	{ID: "24h", Label: "24 Hours", Duration: 24 * time.Hour, Bucket: 15 * time.Minute},
	{ID: "7d", Label: "7 Days", Duration: 7 * 24 * time.Hour, Bucket: time.Hour},
	{ID: "30d", Label: "30 Days", Duration: 30 * 24 * time.Hour, Bucket: 6 * time.Hour},
}

// Windows returns every supported window.
func Windows() []Window {
	out := make([]Window, len(windows))
	copy(out, windows)
	return out
}

// Lookup finds a window by identifier.
func Lookup(id string) (Window, bool) {
	for _, w := range windows {
		if w.ID == id {
			return w, true
		}
	}
	return Window{}, false
}

// Aggregated reports whether the window is served from a windowed view.
func (w Window) Aggregated() bool { return w.Bucket > 0 }

// MarshalJSON renders {id, label, duration} with the duration in milliseconds.
func (w Window) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string `json:"id"`
		Label    string `json:"label"`
		Duration int64  `json:"duration"`
	}{w.ID, w.Label, w.Duration.Milliseconds()})
}
