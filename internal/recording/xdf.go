package recording

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// XDF chunk tags.
const (
	tagFileHeader   = 1
	tagStreamHeader = 2
	tagSamples      = 3
	tagClockOffset  = 4
	tagBoundary     = 5
	tagStreamFooter = 6
)

var xdfMagic = []byte("XDF:")

// ErrNotXDF is returned when the input lacks the XDF magic bytes.
var ErrNotXDF = errors.New("not an XDF file")

// StreamInfo describes one stream from its header and footer.
type StreamInfo struct {
	ID             uint32
	Name           string
	Type           string
	ChannelCount   int
	NominalSrate   float64
	ChannelFormat  string
	SourceID       string
	FirstTimestamp float64
	LastTimestamp  float64
	SampleCount    int64
	ClockOffsets   []ClockOffset
}

// ClockOffset is one clock synchronization measurement.
type ClockOffset struct {
	CollectionTime float64
	Value          float64
}

// XDFOptions controls decoding.
type XDFOptions struct {
	// SyncClocks applies a linear fit of each stream's clock offsets to its
	// timestamps.
	SyncClocks bool
}

// XDF is a decoded XDF recording. String streams are exposed through the
// embedded MarkerSet; numeric streams are decoded for their timestamps only.
type XDF struct {
	*MarkerSet

	Version  string
	Datetime time.Time
	info     map[uint32]*StreamInfo
	ids      []uint32
	numeric  map[uint32][]float64
}

type fileHeaderXML struct {
	Version  string `xml:"version"`
	Datetime string `xml:"datetime"`
}

type streamHeaderXML struct {
	Name          string  `xml:"name"`
	Type          string  `xml:"type"`
	ChannelCount  int     `xml:"channel_count"`
	NominalSrate  float64 `xml:"nominal_srate"`
	ChannelFormat string  `xml:"channel_format"`
	SourceID      string  `xml:"source_id"`
}

type streamFooterXML struct {
	FirstTimestamp float64 `xml:"first_timestamp"`
	LastTimestamp  float64 `xml:"last_timestamp"`
	SampleCount    int64   `xml:"sample_count"`
}

// OpenXDF decodes the XDF file at path.
func OpenXDF(path string, opts XDFOptions) (*XDF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := ReadXDF(bufio.NewReader(f), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return x, nil
}

// ReadXDF decodes an XDF recording from r.
func ReadXDF(r io.Reader, opts XDFOptions) (*XDF, error) {
	magic := make([]byte, len(xdfMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, xdfMagic) {
		return nil, ErrNotXDF
	}

	x := &XDF{
		MarkerSet: NewMarkerSet(),
		info:      make(map[uint32]*StreamInfo),
		numeric:   make(map[uint32][]float64),
	}
	raw := make(map[uint32][]rawSample)

	for {
		tag, content, err := readChunk(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Truncated files keep what was read so far.
			log.Warn().Err(err).Msg("XDF chunk read failed, stopping")
			break
		}

		switch tag {
		case tagFileHeader:
			var h fileHeaderXML
			if err := xml.Unmarshal(content, &h); err != nil {
				return nil, fmt.Errorf("file header: %w", err)
			}
			x.Version = h.Version
			x.Datetime = parseDatetime(h.Datetime)
		case tagStreamHeader:
			id, body, err := splitStreamID(content)
			if err != nil {
				return nil, err
			}
			var h streamHeaderXML
			if err := xml.Unmarshal(body, &h); err != nil {
				return nil, fmt.Errorf("stream %d header: %w", id, err)
			}
			x.stream(id).applyHeader(h)
		case tagSamples:
			id, body, err := splitStreamID(content)
			if err != nil {
				return nil, err
			}
			info := x.stream(id)
			samples, err := decodeSamples(body, info, lastTimestamp(raw[id]))
			if err != nil {
				log.Warn().Err(err).Uint32("stream", id).Int("kept", len(samples)).Msg("XDF samples chunk is corrupt")
			}
			raw[id] = append(raw[id], samples...)
		case tagClockOffset:
			id, body, err := splitStreamID(content)
			if err != nil {
				return nil, err
			}
			if len(body) < 16 {
				return nil, fmt.Errorf("stream %d clock offset: short chunk", id)
			}
			info := x.stream(id)
			info.ClockOffsets = append(info.ClockOffsets, ClockOffset{
				CollectionTime: math.Float64frombits(binary.LittleEndian.Uint64(body[0:8])),
				Value:          math.Float64frombits(binary.LittleEndian.Uint64(body[8:16])),
			})
		case tagStreamFooter:
			id, body, err := splitStreamID(content)
			if err != nil {
				return nil, err
			}
			var f streamFooterXML
			if err := xml.Unmarshal(body, &f); err != nil {
				return nil, fmt.Errorf("stream %d footer: %w", id, err)
			}
			info := x.stream(id)
			info.FirstTimestamp = f.FirstTimestamp
			info.LastTimestamp = f.LastTimestamp
			info.SampleCount = f.SampleCount
		case tagBoundary:
		default:
			log.Debug().Uint16("tag", tag).Msg("Skipping unknown XDF chunk")
		}
	}

	for _, id := range x.ids {
		info := x.info[id]
		fit := func(t float64) float64 { return t }
		if opts.SyncClocks && len(info.ClockOffsets) > 0 {
			a, b := fitOffsets(info.ClockOffsets)
			fit = func(t float64) float64 { return t + a + b*t }
		}
		for _, sample := range raw[id] {
			ts := fit(sample.timestamp)
			if sample.isString {
				x.Add(info.Name, ts, sample.value)
			} else {
				x.numeric[id] = append(x.numeric[id], ts)
			}
		}
		if _, ok := x.streams[info.Name]; !ok && info.ChannelFormat == "string" {
			x.streams[info.Name] = nil
			x.order = append(x.order, info.Name)
		}
	}
	x.assignKeys()
	return x, nil
}

// Info returns the stream descriptions in file order.
func (x *XDF) Info() []StreamInfo {
	out := make([]StreamInfo, 0, len(x.ids))
	for _, id := range x.ids {
		out = append(out, *x.info[id])
	}
	return out
}

// StreamByName returns the first stream with the given name.
func (x *XDF) StreamByName(name string) (StreamInfo, bool) {
	for _, id := range x.ids {
		if x.info[id].Name == name {
			return *x.info[id], true
		}
	}
	return StreamInfo{}, false
}

// NumericTimestamps returns the sample timestamps of a numeric stream.
func (x *XDF) NumericTimestamps(name string) []float64 {
	for _, id := range x.ids {
		if x.info[id].Name == name {
			return x.numeric[id]
		}
	}
	return nil
}

func (x *XDF) stream(id uint32) *StreamInfo {
	info, ok := x.info[id]
	if !ok {
		info = &StreamInfo{ID: id}
		x.info[id] = info
		x.ids = append(x.ids, id)
	}
	return info
}

func (i *StreamInfo) applyHeader(h streamHeaderXML) {
	i.Name = h.Name
	i.Type = h.Type
	i.ChannelCount = h.ChannelCount
	i.NominalSrate = h.NominalSrate
	i.ChannelFormat = h.ChannelFormat
	i.SourceID = h.SourceID
}

type rawSample struct {
	timestamp float64
	value     []byte
	isString  bool
}

func lastTimestamp(samples []rawSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[len(samples)-1].timestamp
}

// maxChunkLength rejects chunk lengths no recorder writes.
const maxChunkLength = 1 << 32

// readChunk reads one chunk and returns its tag and content. The content
// buffer grows with the bytes actually present, so a corrupt length cannot
// force a large allocation.
func readChunk(r io.Reader) (uint16, []byte, error) {
	length, err := readVarLen(r)
	if err != nil {
		return 0, nil, err
	}
	if length < 2 {
		return 0, nil, fmt.Errorf("chunk length %d too short", length)
	}
	if length > maxChunkLength {
		return 0, nil, fmt.Errorf("chunk length %d exceeds %d", length, uint64(maxChunkLength))
	}
	var tag uint16
	if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
		return 0, nil, unexpected(err)
	}
	var content bytes.Buffer
	if _, err := io.CopyN(&content, r, int64(length-2)); err != nil {
		return 0, nil, unexpected(err)
	}
	return tag, content.Bytes(), nil
}

// readVarLen reads a length prefixed by its own byte count (1, 4 or 8).
func readVarLen(r io.Reader) (uint64, error) {
	var n [1]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return 0, err
	}
	switch n[0] {
	case 1:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), unexpected(err)
	case 4:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), unexpected(err)
	case 8:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, unexpected(err)
	default:
		return 0, fmt.Errorf("invalid length byte count %d", n[0])
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func splitStreamID(content []byte) (uint32, []byte, error) {
	if len(content) < 4 {
		return 0, nil, fmt.Errorf("chunk too short for stream id")
	}
	return binary.LittleEndian.Uint32(content[:4]), content[4:], nil
}

var formatSizes = map[string]int{
	"float32":  4,
	"double64": 8,
	"int8":     1,
	"int16":    2,
	"int32":    4,
	"int64":    8,
}

// decodeSamples decodes a samples chunk. Samples without a timestamp are
// placed 1/srate after the previous one. On a corrupt chunk it returns the
// samples decoded before the error.
func decodeSamples(body []byte, info *StreamInfo, prev float64) ([]rawSample, error) {
	r := bytes.NewReader(body)
	count, err := readVarLen(r)
	if err != nil {
		return nil, unexpected(err)
	}

	isString := info.ChannelFormat == "string"
	size, numeric := formatSizes[info.ChannelFormat]
	if !isString && !numeric {
		return nil, fmt.Errorf("unsupported channel format %q", info.ChannelFormat)
	}
	channels := info.ChannelCount
	if channels < 1 {
		channels = 1
	}
	step := 0.0
	if info.NominalSrate > 0 {
		step = 1 / info.NominalSrate
	}

	// Every sample takes at least one byte per channel.
	if count > 0 && channels > r.Len() {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]rawSample, 0, min(count, uint64(r.Len())))
	for i := uint64(0); i < count; i++ {
		var hasTS [1]byte
		if _, err := io.ReadFull(r, hasTS[:]); err != nil {
			return out, unexpected(err)
		}
		ts := prev + step
		if hasTS[0] == 8 {
			var bits uint64
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return out, unexpected(err)
			}
			ts = math.Float64frombits(bits)
		}
		prev = ts

		sample := rawSample{timestamp: ts, isString: isString}
		if isString {
			values := make([]string, 0, channels)
			for c := 0; c < channels; c++ {
				n, err := readVarLen(r)
				if err != nil {
					return out, unexpected(err)
				}
				if n > uint64(r.Len()) {
					return out, io.ErrUnexpectedEOF
				}
				buf := make([]byte, n)
				if _, err := io.ReadFull(r, buf); err != nil {
					return out, unexpected(err)
				}
				values = append(values, string(buf))
			}
			sample.value = []byte(strings.Join(values, "\t"))
		} else {
			if r.Len() < size*channels {
				return out, io.ErrUnexpectedEOF
			}
			if _, err := r.Seek(int64(size*channels), io.SeekCurrent); err != nil {
				return out, err
			}
		}
		out = append(out, sample)
	}
	return out, nil
}

// fitOffsets returns the least squares line offset = a + b*t.
func fitOffsets(offsets []ClockOffset) (float64, float64) {
	n := float64(len(offsets))
	var sumT, sumV float64
	for _, o := range offsets {
		sumT += o.CollectionTime
		sumV += o.Value
	}
	meanT, meanV := sumT/n, sumV/n

	var cov, varT float64
	for _, o := range offsets {
		dt := o.CollectionTime - meanT
		cov += dt * (o.Value - meanV)
		varT += dt * dt
	}
	if varT == 0 {
		return meanV, 0
	}
	b := cov / varT
	return meanV - b*meanT, b
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999-0700",
	"2006-01-02T15:04:05",
}

func parseDatetime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	if s != "" {
		log.Warn().Str("datetime", s).Msg("Unrecognized XDF datetime")
	}
	return time.Time{}
}
