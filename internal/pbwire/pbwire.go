// Package pbwire hand-encodes the control protocol's wire messages against
// protowire's low-level varint/length-delimited primitives. There is no
// generated PbCommand/PbResult Go type in this tree (nothing here runs
// protoc), so marshal/unmarshal are written directly against the same wire
// format protoc-gen-go would produce, field number for field number.
package pbwire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers, matching the original rascsi.proto PbCommand/PbResult/
// PbDeviceDefinition message layout (spec.md §6.1).
const (
	fieldCommandOperation = 1
	fieldCommandParams    = 2
	fieldCommandDevices   = 3
	fieldCommandLocale    = 4

	fieldDeviceID        = 1
	fieldDeviceUnit      = 2
	fieldDeviceType      = 3
	fieldDeviceParams    = 4
	fieldDeviceBlockSize = 5
	fieldDeviceFile      = 6
	fieldDeviceVendor    = 7
	fieldDeviceProduct   = 8
	fieldDeviceRevision  = 9
	fieldDeviceProtected = 10

	fieldParamKey   = 1
	fieldParamValue = 2

	fieldResultStatus  = 1
	fieldResultError   = 2
	fieldResultMessage = 3
	fieldResultDevices = 4
)

// Param is one key/value pair of a PbCommand's generic parameter map.
type Param struct {
	Key, Value string
}

// Device is the wire shape of one PbDeviceDefinition.
type Device struct {
	ID, Unit  int32
	Type      int32
	Params    []Param
	BlockSize int32
	File      string
	Vendor    string
	Product   string
	Revision  string
	Protected bool
}

// Command is the wire shape of a PbCommand.
type Command struct {
	Operation int32
	Params    []Param
	Devices   []Device
	Locale    string
}

// Result is the wire shape of a PbResult.
type Result struct {
	Status  bool
	Error   int32
	Message string
	Devices []Device
}

func appendParam(b []byte, p Param) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, fieldParamKey, protowire.BytesType)
	msg = protowire.AppendString(msg, p.Key)
	msg = protowire.AppendTag(msg, fieldParamValue, protowire.BytesType)
	msg = protowire.AppendString(msg, p.Value)
	b = protowire.AppendTag(b, fieldCommandParams, protowire.BytesType)
	b = protowire.AppendBytes(b, msg)
	return b
}

func marshalDevice(d Device) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDeviceID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.ID))
	b = protowire.AppendTag(b, fieldDeviceUnit, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Unit))
	b = protowire.AppendTag(b, fieldDeviceType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Type))
	for _, p := range d.Params {
		var pm []byte
		pm = protowire.AppendTag(pm, fieldParamKey, protowire.BytesType)
		pm = protowire.AppendString(pm, p.Key)
		pm = protowire.AppendTag(pm, fieldParamValue, protowire.BytesType)
		pm = protowire.AppendString(pm, p.Value)
		b = protowire.AppendTag(b, fieldDeviceParams, protowire.BytesType)
		b = protowire.AppendBytes(b, pm)
	}
	b = protowire.AppendTag(b, fieldDeviceBlockSize, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.BlockSize))
	b = protowire.AppendTag(b, fieldDeviceFile, protowire.BytesType)
	b = protowire.AppendString(b, d.File)
	b = protowire.AppendTag(b, fieldDeviceVendor, protowire.BytesType)
	b = protowire.AppendString(b, d.Vendor)
	b = protowire.AppendTag(b, fieldDeviceProduct, protowire.BytesType)
	b = protowire.AppendString(b, d.Product)
	b = protowire.AppendTag(b, fieldDeviceRevision, protowire.BytesType)
	b = protowire.AppendString(b, d.Revision)
	b = protowire.AppendTag(b, fieldDeviceProtected, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(d.Protected))
	return b
}

// MarshalCommand encodes a Command to wire bytes.
func MarshalCommand(c Command) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCommandOperation, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Operation))
	for _, p := range c.Params {
		b = appendParam(b, p)
	}
	for _, d := range c.Devices {
		b = protowire.AppendTag(b, fieldCommandDevices, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDevice(d))
	}
	if c.Locale != "" {
		b = protowire.AppendTag(b, fieldCommandLocale, protowire.BytesType)
		b = protowire.AppendString(b, c.Locale)
	}
	return b
}

// MarshalResult encodes a Result to wire bytes.
func MarshalResult(r Result) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldResultStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Status))
	b = protowire.AppendTag(b, fieldResultError, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Error))
	b = protowire.AppendTag(b, fieldResultMessage, protowire.BytesType)
	b = protowire.AppendString(b, r.Message)
	for _, d := range r.Devices {
		b = protowire.AppendTag(b, fieldResultDevices, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDevice(d))
	}
	return b
}

func unmarshalDevice(buf []byte) (Device, error) {
	var d Device
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return d, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldDeviceID:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.ID = int32(v)
			buf = buf[n:]
		case fieldDeviceUnit:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Unit = int32(v)
			buf = buf[n:]
		case fieldDeviceType:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Type = int32(v)
			buf = buf[n:]
		case fieldDeviceParams:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			p, err := unmarshalParam(v)
			if err != nil {
				return d, err
			}
			d.Params = append(d.Params, p)
			buf = buf[n:]
		case fieldDeviceBlockSize:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.BlockSize = int32(v)
			buf = buf[n:]
		case fieldDeviceFile:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.File = string(v)
			buf = buf[n:]
		case fieldDeviceVendor:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Vendor = string(v)
			buf = buf[n:]
		case fieldDeviceProduct:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Product = string(v)
			buf = buf[n:]
		case fieldDeviceRevision:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Revision = string(v)
			buf = buf[n:]
		case fieldDeviceProtected:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			d.Protected = protowire.DecodeBool(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return d, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return d, nil
}

func unmarshalParam(buf []byte) (Param, error) {
	var p Param
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return p, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldParamKey:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Key = string(v)
			buf = buf[n:]
		case fieldParamValue:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			p.Value = string(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return p, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return p, nil
}

// UnmarshalCommand decodes wire bytes into a Command.
func UnmarshalCommand(buf []byte) (Command, error) {
	var c Command
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return c, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldCommandOperation:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			c.Operation = int32(v)
			buf = buf[n:]
		case fieldCommandParams:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			p, err := unmarshalParam(v)
			if err != nil {
				return c, err
			}
			c.Params = append(c.Params, p)
			buf = buf[n:]
		case fieldCommandDevices:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			d, err := unmarshalDevice(v)
			if err != nil {
				return c, err
			}
			c.Devices = append(c.Devices, d)
			buf = buf[n:]
		case fieldCommandLocale:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			c.Locale = string(v)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return c, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return c, nil
}

// UnmarshalResult decodes wire bytes into a Result.
func UnmarshalResult(buf []byte) (Result, error) {
	var r Result
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return r, protowire.ParseError(n)
		}
		buf = buf[n:]
		switch num {
		case fieldResultStatus:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Status = protowire.DecodeBool(v)
			buf = buf[n:]
		case fieldResultError:
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Error = int32(v)
			buf = buf[n:]
		case fieldResultMessage:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			r.Message = string(v)
			buf = buf[n:]
		case fieldResultDevices:
			v, n := protowire.ConsumeBytes(buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			d, err := unmarshalDevice(v)
			if err != nil {
				return r, err
			}
			r.Devices = append(r.Devices, d)
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return r, protowire.ParseError(n)
			}
			buf = buf[n:]
		}
	}
	return r, nil
}

// ParamsToMap and MapToParams convert between the wire's repeated key/value
// pairs and Go's native map, for callers such as internal/netproto.
func ParamsToMap(params []Param) map[string]string {
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.Key] = p.Value
	}
	return out
}

func MapToParams(m map[string]string) []Param {
	out := make([]Param, 0, len(m))
	for k, v := range m {
		out = append(out, Param{Key: k, Value: v})
	}
	return out
}

