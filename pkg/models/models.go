// Package models defines the records that flow from frame decoding to the
// visualization widgets. Every record is a pointer type implementing Reset
// so the typed pools can return it to a neutral state on release.
//
// Ownership follows the pool contract: a holder owns a record between
// acquire and release. Composite records (Group, ProcessedFrame) reference
// other pooled records; releasing a composite through the object pool
// manager releases what it references.
package models

import (
	"time"
)

// WidgetType names the widget a dataset or group is rendered with.
type WidgetType string

// Widget types understood by the rendering front end.
const (
	WidgetPlot          WidgetType = "plot"
	WidgetMultiPlot     WidgetType = "multiplot"
	WidgetBar           WidgetType = "bar"
	WidgetGauge         WidgetType = "gauge"
	WidgetCompass       WidgetType = "compass"
	WidgetGPS           WidgetType = "gps"
	WidgetAccelerometer WidgetType = "accelerometer"
	WidgetGyroscope     WidgetType = "gyroscope"
	WidgetLED           WidgetType = "led"
	WidgetFFT           WidgetType = "fft"
	WidgetDataGrid      WidgetType = "datagrid"
	WidgetTerminal      WidgetType = "terminal"
)

// DataPoint is one sample of a plotted series.
type DataPoint struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Timestamp time.Time `json:"timestamp"`
}

// Reset zeroes the point.
func (p *DataPoint) Reset() {
	*p = DataPoint{}
}

// Dataset is a single decoded channel of a frame.
type Dataset struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Value  any        `json:"value"`
	Unit   string     `json:"unit,omitempty"`
	Widget WidgetType `json:"widget"`
	Alarm  bool       `json:"alarm"`
	LED    bool       `json:"led"`
	Log    bool       `json:"log"`
	Graph  bool       `json:"graph"`
	FFT    bool       `json:"fft"`
	Min    *float64   `json:"min,omitempty"`
	Max    *float64   `json:"max,omitempty"`
	Units  []string   `json:"units,omitempty"`
}

// Reset clears every field, keeping the Units backing array.
func (d *Dataset) Reset() {
	units := d.Units
	clear(units)
	*d = Dataset{Widget: WidgetPlot, Units: units[:0]}
}

// SetBounds sets the expected value range.
func (d *Dataset) SetBounds(lo, hi float64) {
	d.Min, d.Max = &lo, &hi
}

// Group is a titled collection of datasets rendered together.
type Group struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Widget   WidgetType `json:"widget"`
	Datasets []*Dataset `json:"datasets"`
}

// Reset empties the dataset list without releasing the datasets.
func (g *Group) Reset() {
	datasets := g.Datasets
	clear(datasets)
	*g = Group{Widget: WidgetPlot, Datasets: datasets[:0]}
}

// RawFrame is an undecoded frame payload.
type RawFrame struct {
	Data          []byte    `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
	Sequence      uint64    `json:"sequence"`
	ChecksumValid *bool     `json:"checksum_valid,omitempty"`
	// PooledPayload marks Data as drawn from the buffer pool.
	PooledPayload bool `json:"-"`
}

// Reset empties the frame. A pooled payload must be returned to the
// buffer pool before Reset; it is dropped here.
func (f *RawFrame) Reset() {
	data := f.Data[:0]
	if f.PooledPayload {
		data = nil
	}
	*f = RawFrame{Data: data}
}

// SetChecksum records the checksum verification outcome.
func (f *RawFrame) SetChecksum(valid bool) {
	f.ChecksumValid = &valid
}

// ProcessedFrame is a decoded frame ready for rendering.
type ProcessedFrame struct {
	Groups    []*Group  `json:"groups"`
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	FrameID   string    `json:"frame_id"`
}

// Reset empties the group list without releasing the groups.
func (f *ProcessedFrame) Reset() {
	groups := f.Groups
	clear(groups)
	*f = ProcessedFrame{Groups: groups[:0]}
}

// DatasetCount returns the number of datasets across all groups.
func (f *ProcessedFrame) DatasetCount() int {
	n := 0
	for _, g := range f.Groups {
		if g != nil {
			n += len(g.Datasets)
		}
	}
	return n
}

// CommunicationStats summarizes link activity.
type CommunicationStats struct {
	BytesReceived   uint64        `json:"bytes_received"`
	BytesSent       uint64        `json:"bytes_sent"`
	FramesReceived  uint64        `json:"frames_received"`
	FramesSent      uint64        `json:"frames_sent"`
	FramesProcessed uint64        `json:"frames_processed"`
	Errors          uint64        `json:"errors"`
	Reconnections   uint64        `json:"reconnections"`
	Uptime          time.Duration `json:"uptime"`
	MemoryUsage     uint64        `json:"memory_usage"`
}

// Reset zeroes the counters.
func (s *CommunicationStats) Reset() {
	*s = CommunicationStats{}
}

// PerformanceMetrics summarizes rendering performance.
type PerformanceMetrics struct {
	UpdateFrequency   float64  `json:"update_frequency"`
	ProcessingLatency float64  `json:"processing_latency"`
	MemoryUsage       uint64   `json:"memory_usage"`
	DroppedFrames     uint64   `json:"dropped_frames"`
	CPUUsage          *float64 `json:"cpu_usage,omitempty"`
}

// Reset zeroes the metrics.
func (m *PerformanceMetrics) Reset() {
	*m = PerformanceMetrics{}
}
