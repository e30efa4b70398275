package eventfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from tensorflow/core/util/event.proto and
// tensorflow/core/framework/summary.proto / tensor.proto.
const (
	eventWallTime    protowire.Number = 1
	eventStep        protowire.Number = 2
	eventFileVersion protowire.Number = 3
	eventSummary     protowire.Number = 5

	summaryValue protowire.Number = 1

	valueTag         protowire.Number = 1
	valueSimpleValue protowire.Number = 2
	valueTensor      protowire.Number = 8
	valueMetadata    protowire.Number = 9

	metadataPluginData protowire.Number = 1
	metadataDataClass  protowire.Number = 4

	pluginDataName protowire.Number = 1

	tensorDtype     protowire.Number = 1
	tensorContent   protowire.Number = 4
	tensorFloatVal  protowire.Number = 5
	tensorDoubleVal protowire.Number = 6
	tensorIntVal    protowire.Number = 7
	tensorInt64Val  protowire.Number = 10
)

// Tensor dtypes that can carry a scalar value.
const (
	dtFloat  = 1
	dtDouble = 2
	dtInt32  = 3
	dtInt64  = 9
)

// dataClassScalar marks a summary value whose tensor is a single number.
const dataClassScalar = 1

// ScalarsPlugin is the plugin name TensorBoard attaches to scalar summaries.
const ScalarsPlugin = "scalars"

// Kind tells how a summary value was recorded.
type Kind int

const (
	// KindOther is any summary value that is not a scalar candidate
	// (histograms, images, audio, ...).
	KindOther Kind = iota
	// KindSimpleValue is a legacy scalar summary.
	KindSimpleValue
	// KindTensor is a tensor summary. It is only a scalar when its tag is
	// associated with the scalars plugin.
	KindTensor
)

// Event is a decoded record of an event log.
type Event struct {
	WallTime    float64
	Step        int64
	FileVersion string
	Values      []Value
}

// Value is one entry of an event's summary.
type Value struct {
	Tag        string
	Kind       Kind
	PluginName string
	DataClass  int
	// Scalar holds the numeric value for simple values and for tensors
	// that contain exactly one number (HasScalar reports which).
	Scalar    float64
	HasScalar bool
}

// decodeEvent parses an Event protobuf payload.
func decodeEvent(b []byte) (*Event, error) {
	ev := &Event{}

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == eventWallTime && typ == protowire.Fixed64Type:
			ev.WallTime = math.Float64frombits(x)
		case num == eventStep && typ == protowire.VarintType:
			ev.Step = int64(x)
		case num == eventFileVersion && typ == protowire.BytesType:
			ev.FileVersion = string(v)
		case num == eventSummary && typ == protowire.BytesType:
			values, err := decodeSummary(v)
			if err != nil {
				return fmt.Errorf("summary: %w", err)
			}

			ev.Values = values
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return ev, nil
}

func decodeSummary(b []byte) ([]Value, error) {
	var values []Value

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != summaryValue || typ != protowire.BytesType {
			return nil
		}

		value, err := decodeValue(v)
		if err != nil {
			return err
		}

		values = append(values, value)

		return nil
	})

	return values, err
}

func decodeValue(b []byte) (Value, error) {
	var value Value

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch {
		case num == valueTag && typ == protowire.BytesType:
			value.Tag = string(v)
		case num == valueSimpleValue && typ == protowire.Fixed32Type:
			value.Kind = KindSimpleValue
			value.Scalar = float64(math.Float32frombits(uint32(x)))
			value.HasScalar = true
		case num == valueTensor && typ == protowire.BytesType:
			value.Kind = KindTensor

			scalar, ok, err := decodeTensorScalar(v)
			if err != nil {
				return fmt.Errorf("tensor: %w", err)
			}

			value.Scalar, value.HasScalar = scalar, ok
		case num == valueMetadata && typ == protowire.BytesType:
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
				switch {
				case num == metadataPluginData && typ == protowire.BytesType:
					return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
						if num == pluginDataName && typ == protowire.BytesType {
							value.PluginName = string(v)
						}

						return nil
					})
				case num == metadataDataClass && typ == protowire.VarintType:
					value.DataClass = int(x)
				}

				return nil
			})
		}

		return nil
	})

	return value, err
}

// decodeTensorScalar extracts the single number held by a rank-0 or
// single-element tensor. ok is false when the tensor holds anything else.
func decodeTensorScalar(b []byte) (float64, bool, error) {
	var (
		dtype   uint64
		content []byte
		nums    []float64
	)

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case tensorDtype:
			if typ == protowire.VarintType {
				dtype = x
			}
		case tensorContent:
			if typ == protowire.BytesType {
				content = v
			}
		case tensorFloatVal:
			return appendRepeated(&nums, typ, v, x, protowire.Fixed32Type, func(u uint64) float64 {
				return float64(math.Float32frombits(uint32(u)))
			})
		case tensorDoubleVal:
			return appendRepeated(&nums, typ, v, x, protowire.Fixed64Type, math.Float64frombits)
		case tensorIntVal:
			return appendRepeated(&nums, typ, v, x, protowire.VarintType, func(u uint64) float64 {
				return float64(int32(u))
			})
		case tensorInt64Val:
			return appendRepeated(&nums, typ, v, x, protowire.VarintType, func(u uint64) float64 {
				return float64(int64(u))
			})
		}

		return nil
	})
	if err != nil {
		return 0, false, err
	}

	if len(content) > 0 {
		return contentScalar(dtype, content)
	}

	if len(nums) != 1 {
		return 0, false, nil
	}

	return nums[0], true, nil
}

func contentScalar(dtype uint64, content []byte) (float64, bool, error) {
	switch dtype {
	case dtFloat:
		if len(content) != 4 {
			return 0, false, nil
		}

		return float64(math.Float32frombits(binary.LittleEndian.Uint32(content))), true, nil
	case dtDouble:
		if len(content) != 8 {
			return 0, false, nil
		}

		return math.Float64frombits(binary.LittleEndian.Uint64(content)), true, nil
	case dtInt32:
		if len(content) != 4 {
			return 0, false, nil
		}

		return float64(int32(binary.LittleEndian.Uint32(content))), true, nil
	case dtInt64:
		if len(content) != 8 {
			return 0, false, nil
		}

		return float64(int64(binary.LittleEndian.Uint64(content))), true, nil
	default:
		return 0, false, nil
	}
}

// appendRepeated decodes a repeated numeric field in either packed or
// unpacked encoding.
func appendRepeated(
	dst *[]float64,
	typ protowire.Type,
	v []byte,
	x uint64,
	elem protowire.Type,
	conv func(uint64) float64,
) error {
	if typ == elem {
		*dst = append(*dst, conv(x))

		return nil
	}

	if typ != protowire.BytesType {
		return nil
	}

	for len(v) > 0 {
		var (
			u uint64
			n int
		)

		switch elem {
		case protowire.Fixed32Type:
			var u32 uint32
			u32, n = protowire.ConsumeFixed32(v)
			u = uint64(u32)
		case protowire.Fixed64Type:
			u, n = protowire.ConsumeFixed64(v)
		default:
			u, n = protowire.ConsumeVarint(v)
		}

		if n < 0 {
			return protowire.ParseError(n)
		}

		*dst = append(*dst, conv(u))
		v = v[n:]
	}

	return nil
}

// walkFields iterates over the top-level fields of a protobuf message.
// For length-delimited fields v holds the bytes; for numeric fields x holds
// the raw value. Groups are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}

		b = b[n:]

		var (
			v []byte
			x uint64
		)

		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var u32 uint32
			u32, n = protowire.ConsumeFixed32(b)
			x = uint64(u32)
		case protowire.Fixed64Type:
			x, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if n < 0 {
			return protowire.ParseError(n)
		}

		b = b[n:]

		if err := fn(num, typ, v, x); err != nil {
			return err
		}
	}

	return nil
}

// encodeScalarEvent builds an Event payload carrying simple-value scalars.
func encodeScalarEvent(wallTime float64, step int64, values map[string]float32, order []string) []byte {
	var b []byte

	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, eventStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(step))

	var summary []byte

	for _, tag := range order {
		var value []byte

		value = protowire.AppendTag(value, valueTag, protowire.BytesType)
		value = protowire.AppendString(value, tag)
		value = protowire.AppendTag(value, valueSimpleValue, protowire.Fixed32Type)
		value = protowire.AppendFixed32(value, math.Float32bits(values[tag]))

		summary = protowire.AppendTag(summary, summaryValue, protowire.BytesType)
		summary = protowire.AppendBytes(summary, value)
	}

	b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
	b = protowire.AppendBytes(b, summary)

	return b
}

// encodeTensorScalarEvent builds an Event payload with one scalar tensor
// value, as written by TF2 summary writers. withMetadata attaches the
// scalars plugin metadata, which writers only do for a tag's first value.
func encodeTensorScalarEvent(wallTime float64, step int64, tag string, value float32, withMetadata bool) []byte {
	var tensor []byte

	tensor = protowire.AppendTag(tensor, tensorDtype, protowire.VarintType)
	tensor = protowire.AppendVarint(tensor, dtFloat)
	tensor = protowire.AppendTag(tensor, tensorFloatVal, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, protowire.AppendFixed32(nil, math.Float32bits(value)))

	var v []byte

	v = protowire.AppendTag(v, valueTag, protowire.BytesType)
	v = protowire.AppendString(v, tag)

	if withMetadata {
		var plugin []byte

		plugin = protowire.AppendTag(plugin, pluginDataName, protowire.BytesType)
		plugin = protowire.AppendString(plugin, ScalarsPlugin)

		var metadata []byte

		metadata = protowire.AppendTag(metadata, metadataPluginData, protowire.BytesType)
		metadata = protowire.AppendBytes(metadata, plugin)
		metadata = protowire.AppendTag(metadata, metadataDataClass, protowire.VarintType)
		metadata = protowire.AppendVarint(metadata, dataClassScalar)

		v = protowire.AppendTag(v, valueMetadata, protowire.BytesType)
		v = protowire.AppendBytes(v, metadata)
	}

	v = protowire.AppendTag(v, valueTensor, protowire.BytesType)
	v = protowire.AppendBytes(v, tensor)

	var b []byte

	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, eventStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(step))
	summary := protowire.AppendTag(nil, summaryValue, protowire.BytesType)
	summary = protowire.AppendBytes(summary, v)

	b = protowire.AppendTag(b, eventSummary, protowire.BytesType)
	b = protowire.AppendBytes(b, summary)

	return b
}

// encodeFileVersionEvent builds the header event every log starts with.
func encodeFileVersionEvent(wallTime float64, version string) []byte {
	var b []byte

	b = protowire.AppendTag(b, eventWallTime, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(wallTime))
	b = protowire.AppendTag(b, eventFileVersion, protowire.BytesType)
	b = protowire.AppendString(b, version)

	return b
}
