package visualiser

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/hypgraph/internal/lidar/l4perception"
	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

// Struct numbers are doubles, so 64-bit identifiers and nanosecond
// timestamps travel as decimal strings.

// StreamOptions is the StreamTracks request.
type StreamOptions struct {
	// MinNodeCount hides tracks whose component holds fewer nodes.
	MinNodeCount int
}

func (o StreamOptions) encode() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"min_node_count": structpb.NewNumberValue(float64(o.MinNodeCount)),
	}}
}

func (o StreamOptions) filter(frame l5tracks.TrackFrame) l5tracks.TrackFrame {
	if o.MinNodeCount <= 1 {
		return frame
	}
	out := frame
	out.Tracks = make([]l5tracks.SelectedTrack, 0, len(frame.Tracks))
	for _, t := range frame.Tracks {
		if t.NodeCount >= o.MinNodeCount {
			out.Tracks = append(out.Tracks, t)
		}
	}
	return out
}

// DecodeStreamOptions parses a StreamTracks request. A nil or empty request
// selects the defaults.
func DecodeStreamOptions(s *structpb.Struct) (StreamOptions, error) {
	var opts StreamOptions
	if s == nil {
		return opts, nil
	}
	if v, ok := s.GetFields()["min_node_count"]; ok {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return opts, fmt.Errorf("min_node_count must be a number")
		}
		if n.NumberValue < 0 {
			return opts, fmt.Errorf("min_node_count must be non-negative, got %v", n.NumberValue)
		}
		opts.MinNodeCount = int(n.NumberValue)
	}
	return opts, nil
}

// EncodeFrame converts a TrackFrame to its wire form.
func EncodeFrame(f l5tracks.TrackFrame) *structpb.Struct {
	tracks := make([]*structpb.Value, 0, len(f.Tracks))
	for _, t := range f.Tracks {
		tracks = append(tracks, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"component_id": structpb.NewStringValue(t.ComponentID.String()),
			"node_id":      structpb.NewStringValue(strconv.FormatUint(uint64(t.NodeID), 10)),
			"clique_count": structpb.NewNumberValue(float64(t.CliqueCount)),
			"node_count":   structpb.NewNumberValue(float64(t.NodeCount)),
			"box":          structpb.NewStructValue(encodeBox(t.Box)),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"frame_id":        structpb.NewStringValue(strconv.FormatUint(f.FrameID, 10)),
		"timestamp_nanos": structpb.NewStringValue(strconv.FormatInt(f.TimestampNanos, 10)),
		"tracks":          structpb.NewListValue(&structpb.ListValue{Values: tracks}),
	}}
}

func encodeBox(b l4perception.BoxModel) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"cluster_id":      structpb.NewStringValue(strconv.FormatInt(b.ClusterID, 10)),
		"sensor_id":       structpb.NewStringValue(b.SensorID),
		"x":               structpb.NewNumberValue(b.X),
		"y":               structpb.NewNumberValue(b.Y),
		"heading":         structpb.NewNumberValue(b.HeadingRad),
		"length":          structpb.NewNumberValue(b.Length),
		"width":           structpb.NewNumberValue(b.Width),
		"height":          structpb.NewNumberValue(b.Height),
		"confidence":      structpb.NewNumberValue(b.Confidence),
		"timestamp_nanos": structpb.NewStringValue(strconv.FormatInt(b.TimestampNanos, 10)),
	}}
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(s *structpb.Struct) (l5tracks.TrackFrame, error) {
	var (
		f   l5tracks.TrackFrame
		err error
	)
	d := fieldDecoder{s: s}
	f.FrameID = d.unsigned("frame_id")
	f.TimestampNanos = d.signed("timestamp_nanos")
	list := d.list("tracks")
	if d.err != nil {
		return f, d.err
	}

	f.Tracks = make([]l5tracks.SelectedTrack, 0, len(list))
	for i, v := range list {
		ts := v.GetStructValue()
		if ts == nil {
			return f, fmt.Errorf("tracks[%d]: not an object", i)
		}
		td := fieldDecoder{s: ts}
		var t l5tracks.SelectedTrack
		if t.ComponentID, err = uuid.Parse(td.text("component_id")); err != nil && td.err == nil {
			td.err = fmt.Errorf("component_id: %w", err)
		}
		t.NodeID = l5tracks.NodeID(td.unsigned("node_id"))
		t.CliqueCount = int(td.number("clique_count"))
		t.NodeCount = int(td.number("node_count"))
		t.Box = decodeBox(&td, td.object("box"))
		if td.err != nil {
			return f, fmt.Errorf("tracks[%d]: %w", i, td.err)
		}
		f.Tracks = append(f.Tracks, t)
	}
	return f, nil
}

func decodeBox(parent *fieldDecoder, s *structpb.Struct) l4perception.BoxModel {
	if parent.err != nil {
		return l4perception.BoxModel{}
	}
	d := fieldDecoder{s: s}
	b := l4perception.BoxModel{
		ClusterID:      d.signed("cluster_id"),
		SensorID:       d.text("sensor_id"),
		X:              d.number("x"),
		Y:              d.number("y"),
		HeadingRad:     d.number("heading"),
		Length:         d.number("length"),
		Width:          d.number("width"),
		Height:         d.number("height"),
		Confidence:     d.number("confidence"),
		TimestampNanos: d.signed("timestamp_nanos"),
	}
	if d.err != nil {
		parent.err = fmt.Errorf("box: %w", d.err)
	}
	return b
}

// fieldDecoder reads typed fields and keeps the first error.
type fieldDecoder struct {
	s   *structpb.Struct
	err error
}

func (d *fieldDecoder) value(name string) *structpb.Value {
	if d.err != nil {
		return nil
	}
	v, ok := d.s.GetFields()[name]
	if !ok {
		d.err = fmt.Errorf("missing field %q", name)
		return nil
	}
	return v
}

func (d *fieldDecoder) text(name string) string {
	v := d.value(name)
	if v == nil {
		return ""
	}
	sv, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		d.err = fmt.Errorf("field %q: want string", name)
		return ""
	}
	return sv.StringValue
}

func (d *fieldDecoder) number(name string) float64 {
	v := d.value(name)
	if v == nil {
		return 0
	}
	nv, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		d.err = fmt.Errorf("field %q: want number", name)
		return 0
	}
	return nv.NumberValue
}

func (d *fieldDecoder) signed(name string) int64 {
	s := d.text(name)
	if d.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d.err = fmt.Errorf("field %q: %w", name, err)
	}
	return n
}

func (d *fieldDecoder) unsigned(name string) uint64 {
	s := d.text(name)
	if d.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		d.err = fmt.Errorf("field %q: %w", name, err)
	}
	return n
}

func (d *fieldDecoder) list(name string) []*structpb.Value {
	v := d.value(name)
	if v == nil {
		return nil
	}
	lv, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		d.err = fmt.Errorf("field %q: want list", name)
		return nil
	}
	return lv.ListValue.GetValues()
}

func (d *fieldDecoder) object(name string) *structpb.Struct {
	v := d.value(name)
	if v == nil {
		return nil
	}
	sv, ok := v.GetKind().(*structpb.Value_StructValue)
	if !ok {
		d.err = fmt.Errorf("field %q: want object", name)
		return nil
	}
	return sv.StructValue
}
