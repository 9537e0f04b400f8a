package cfa

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Dtype describes the element type of an aggregated array or a stored
// fragment, using the NumPy array protocol type string (typestr) format that
// zarr also uses. The format consists of 3 parts:
//   - One character describing the byteorder of the data:
//     "<": little-endian; ">": big-endian; "|": not-relevant
//   - One character code giving the basic type of the array:
//     "b": boolean, "i": integer, "u": unsigned integer, "f": floating point
//   - An integer specifying the number of bytes the type uses.
//
// Values are always handed to callers widened to float64, Dtype records what
// they were declared as.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Float64 is the default dtype of aggregated variables
var Float64 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 8}

func ParseDtype(s string) (dt Dtype, err error) {
	// python writers sometimes HTML-escape the byte order when serializing JSON
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	size, err := strconv.ParseInt(s, 10, 0)
	if err != nil {
		return dt, fmt.Errorf("invalid Dtype size %q: %w", s, err)
	}
	dt.ByteSize = int(size)
	if _, err := dt.reader(); err != nil {
		return dt, err
	}
	return dt, nil
}

// cdlTypes maps netCDF CDL type names to dtypes. netCDF data is big-endian on
// disk but readers hand values back decoded, so byte order is not relevant.
var cdlTypes = map[string]Dtype{
	"byte":   {BONotRelevant, BTInteger, 1},
	"ubyte":  {BONotRelevant, BTUnsigned, 1},
	"char":   {BONotRelevant, BTUnsigned, 1},
	"short":  {BONotRelevant, BTInteger, 2},
	"ushort": {BONotRelevant, BTUnsigned, 2},
	"int":    {BONotRelevant, BTInteger, 4},
	"uint":   {BONotRelevant, BTUnsigned, 4},
	"int64":  {BONotRelevant, BTInteger, 8},
	"uint64": {BONotRelevant, BTUnsigned, 8},
	"float":  {BONotRelevant, BTFloatingPoint, 4},
	"double": {BONotRelevant, BTFloatingPoint, 8},
}

// ParseCDLType reads a netCDF CDL type name such as "double" or "short"
func ParseCDLType(s string) (Dtype, error) {
	dt, ok := cdlTypes[strings.TrimSpace(s)]
	if !ok {
		return dt, fmt.Errorf("%w: netCDF type %q", ErrUnsupported, s)
	}
	return dt, nil
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
}

// Human is the readable name of the basic type, eg. "float64"
func (dt Dtype) Human() string {
	return fmt.Sprintf("%s%d", dt.BasicType.Human(), dt.ByteSize*8)
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

func (dt Dtype) order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Decode reads n consecutive binary values of this dtype from r, widening
// each to float64
func (dt Dtype) Decode(r io.Reader, n int) ([]float64, error) {
	read, err := dt.reader()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n*dt.ByteSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("reading %d %s values: %w", n, dt, err)
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = read(buf[i*dt.ByteSize : (i+1)*dt.ByteSize])
	}
	return out, nil
}

func (dt Dtype) reader() (func([]byte) float64, error) {
	bo := dt.order()
	switch dt.BasicType {
	case BTBoolean:
		if dt.ByteSize == 1 {
			return func(b []byte) float64 {
				if b[0] != 0 {
					return 1
				}
				return 0
			}, nil
		}
	case BTInteger:
		switch dt.ByteSize {
		case 1:
			return func(b []byte) float64 { return float64(int8(b[0])) }, nil
		case 2:
			return func(b []byte) float64 { return float64(int16(bo.Uint16(b))) }, nil
		case 4:
			return func(b []byte) float64 { return float64(int32(bo.Uint32(b))) }, nil
		case 8:
			return func(b []byte) float64 { return float64(int64(bo.Uint64(b))) }, nil
		}
	case BTUnsigned:
		switch dt.ByteSize {
		case 1:
			return func(b []byte) float64 { return float64(b[0]) }, nil
		case 2:
			return func(b []byte) float64 { return float64(bo.Uint16(b)) }, nil
		case 4:
			return func(b []byte) float64 { return float64(bo.Uint32(b)) }, nil
		case 8:
			return func(b []byte) float64 { return float64(bo.Uint64(b)) }, nil
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			return func(b []byte) float64 { return float64(math.Float32frombits(bo.Uint32(b))) }, nil
		case 8:
			return func(b []byte) float64 { return math.Float64frombits(bo.Uint64(b)) }, nil
		}
	}
	return nil, fmt.Errorf("%w: decoding dtype %s", ErrUnsupported, dt)
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("%w: basic type %q", ErrUnsupported, r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
)

// only numeric types can be aggregated
var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
}
