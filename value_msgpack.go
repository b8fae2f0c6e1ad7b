package unidb

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// The cache stores records as msgpack bytes; Value carries its own codec so
// records round-trip without losing kind information.

var (
	_ msgpack.CustomEncoder = (*Value)(nil)
	_ msgpack.CustomDecoder = (*Value)(nil)
)

// EncodeMsgpack encodes v as a two-element array: the kind tag and the
// payload.
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(v.t)); err != nil {
		return err
	}
	switch v.t {
	case TypeNull:
		return enc.EncodeNil()
	case TypeBool:
		return enc.EncodeBool(v.b)
	case TypeInt:
		return enc.EncodeInt(v.i)
	case TypeFloat:
		return enc.EncodeFloat64(v.f)
	case TypeString, TypeUUID:
		return enc.EncodeString(v.s)
	case TypeBytes:
		return enc.EncodeBytes(v.by)
	case TypeDateTime:
		return enc.EncodeTime(v.tm)
	case TypeJSON:
		return enc.Encode(v.js)
	case TypeArray:
		if err := enc.EncodeArrayLen(len(v.arr)); err != nil {
			return err
		}
		for _, e := range v.arr {
			if err := e.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	case TypeObject:
		if err := enc.EncodeMapLen(len(v.obj)); err != nil {
			return err
		}
		for k, e := range v.obj {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := e.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unidb: cannot encode value of type %d", v.t)
}

// DecodeMsgpack decodes the two-element array form.
func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("unidb: malformed value encoding (array length %d)", n)
	}
	tag, err := dec.DecodeInt64()
	if err != nil {
		return err
	}
	switch ValueType(tag) {
	case TypeNull:
		if err := dec.DecodeNil(); err != nil {
			return err
		}
		*v = Null()
	case TypeBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return err
		}
		*v = Bool(b)
	case TypeInt:
		i, err := dec.DecodeInt64()
		if err != nil {
			return err
		}
		*v = Int(i)
	case TypeFloat:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return err
		}
		*v = Float(f)
	case TypeString:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*v = String(s)
	case TypeUUID:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		*v = Value{t: TypeUUID, s: s}
	case TypeBytes:
		b, err := dec.DecodeBytes()
		if err != nil {
			return err
		}
		*v = Bytes(b)
	case TypeDateTime:
		tm, err := dec.DecodeTime()
		if err != nil {
			return err
		}
		*v = DateTime(tm)
	case TypeJSON:
		var js any
		if err := dec.Decode(&js); err != nil {
			return err
		}
		*v = JSON(js)
	case TypeArray:
		ln, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		arr := make([]Value, ln)
		for i := range arr {
			if err := arr[i].DecodeMsgpack(dec); err != nil {
				return err
			}
		}
		*v = Array(arr...)
	case TypeObject:
		ln, err := dec.DecodeMapLen()
		if err != nil {
			return err
		}
		obj := make(map[string]Value, ln)
		for i := 0; i < ln; i++ {
			k, err := dec.DecodeString()
			if err != nil {
				return err
			}
			var e Value
			if err := e.DecodeMsgpack(dec); err != nil {
				return err
			}
			obj[k] = e
		}
		*v = Object(obj)
	default:
		return fmt.Errorf("unidb: unknown value tag %d", tag)
	}
	return nil
}
