package abi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// The cache value encoding is a fixed, versionless little-endian binary
// layout: unsigned integers are fixed-width, sequences and strings carry a
// u64 element count, optional values carry a one-byte presence tag, and
// struct fields appear in declaration order. The derived indexes are encoded
// after the payload fields as count-prefixed key/value pair lists.
//
// This layout is shared with other implementations reading the same cache
// files, so it is hand-rolled here and locked by golden tests; do not change
// it without versioning the whole store.

// ErrTrailingBytes is returned when a value decodes successfully but leaves
// unconsumed bytes, which indicates a corrupt or foreign record.
var ErrTrailingBytes = errors.New("abi: trailing bytes after value")

// Marshal encodes a Contract into the canonical cache value bytes.
func Marshal(c *Contract) ([]byte, error) {
	e := &encoder{}

	e.writeFunctions(c.Functions)
	e.writeEvents(c.Events)
	e.writeErrors(c.Errors)
	e.writeOptionFunction(c.Constructor)
	e.writeOptionFunction(c.Fallback)
	e.writeOptionFunction(c.Receive)
	e.writeStorageLayout(c.StorageLayout)
	e.writeOptionString(c.DecompileError)
	e.writeOptionString(c.StorageError)

	selOrder, selValues := c.selectorPairs()
	e.writeU64(uint64(len(selOrder)))
	for _, sel := range selOrder {
		e.buf = append(e.buf, sel[:]...)
		e.writeU64(selValues[sel])
	}

	nameOrder, nameValues := c.namePairs()
	e.writeU64(uint64(len(nameOrder)))
	for _, name := range nameOrder {
		e.writeString(name)
		e.writeU64(nameValues[name])
	}

	return e.buf, nil
}

// Unmarshal decodes cache value bytes into a Contract. The stored indexes are
// consumed for validation but the returned Contract's lookup tables are
// rebuilt from the function list, which is the only source of truth.
func Unmarshal(data []byte) (*Contract, error) {
	d := &decoder{b: data}
	c := &Contract{}

	var err error
	if c.Functions, err = d.readFunctions(); err != nil {
		return nil, fmt.Errorf("functions: %w", err)
	}
	if c.Events, err = d.readEvents(); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	if c.Errors, err = d.readErrors(); err != nil {
		return nil, fmt.Errorf("errors: %w", err)
	}
	if c.Constructor, err = d.readOptionFunction(); err != nil {
		return nil, fmt.Errorf("constructor: %w", err)
	}
	if c.Fallback, err = d.readOptionFunction(); err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}
	if c.Receive, err = d.readOptionFunction(); err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	if c.StorageLayout, err = d.readStorageLayout(); err != nil {
		return nil, fmt.Errorf("storage layout: %w", err)
	}
	if c.DecompileError, err = d.readOptionString(); err != nil {
		return nil, fmt.Errorf("decompile error: %w", err)
	}
	if c.StorageError, err = d.readOptionString(); err != nil {
		return nil, fmt.Errorf("storage error: %w", err)
	}

	// Stored indexes are derived state; skip over them and rebuild.
	if err = d.skipSelectorIndex(); err != nil {
		return nil, fmt.Errorf("selector index: %w", err)
	}
	if err = d.skipNameIndex(); err != nil {
		return nil, fmt.Errorf("name index: %w", err)
	}

	if d.off != len(d.b) {
		return nil, ErrTrailingBytes
	}

	c.RebuildIndexes()
	return c, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) writeU32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) writeU64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}

func (e *encoder) writeString(s string) {
	e.writeU64(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *encoder) writeStrings(ss []string) {
	e.writeU64(uint64(len(ss)))
	for _, s := range ss {
		e.writeString(s)
	}
}

func (e *encoder) writeOptionString(s *string) {
	if s == nil {
		e.buf = append(e.buf, 0)
		return
	}
	e.buf = append(e.buf, 1)
	e.writeString(*s)
}

func (e *encoder) writeParam(p Param) {
	e.writeString(p.Name)
	e.writeString(p.Type)
	e.writeOptionString(p.InternalType)
}

func (e *encoder) writeParams(ps []Param) {
	e.writeU64(uint64(len(ps)))
	for _, p := range ps {
		e.writeParam(p)
	}
}

func (e *encoder) writeFunction(f Function) {
	e.writeString(f.Name)
	e.writeParams(f.Inputs)
	e.writeParams(f.Outputs)
	e.writeStrings(f.InputTypes)
	e.writeStrings(f.OutputTypes)
	e.writeString(f.StateMutability)
	e.writeBool(f.Constant)
	e.writeBool(f.Payable)
	e.buf = append(e.buf, f.Selector[:]...)
	e.writeString(f.Signature)
}

func (e *encoder) writeFunctions(fs []Function) {
	e.writeU64(uint64(len(fs)))
	for _, f := range fs {
		e.writeFunction(f)
	}
}

func (e *encoder) writeOptionFunction(f *Function) {
	if f == nil {
		e.buf = append(e.buf, 0)
		return
	}
	e.buf = append(e.buf, 1)
	e.writeFunction(*f)
}

func (e *encoder) writeEvents(evs []Event) {
	e.writeU64(uint64(len(evs)))
	for _, ev := range evs {
		e.writeString(ev.Name)
		e.writeU64(uint64(len(ev.Inputs)))
		for _, p := range ev.Inputs {
			e.writeString(p.Name)
			e.writeString(p.Type)
			e.writeBool(p.Indexed)
			e.writeOptionString(p.InternalType)
		}
		e.writeBool(ev.Anonymous)
	}
}

func (e *encoder) writeErrors(errs []Error) {
	e.writeU64(uint64(len(errs)))
	for _, er := range errs {
		e.writeString(er.Name)
		e.writeParams(er.Inputs)
	}
}

func (e *encoder) writeStorageLayout(slots []StorageSlot) {
	e.writeU64(uint64(len(slots)))
	for _, s := range slots {
		e.writeU64(s.Index)
		e.writeU32(s.Offset)
		e.writeString(s.Type)
	}
}

type decoder struct {
	b   []byte
	off int
}

var errShortBuffer = errors.New("abi: short buffer")

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || len(d.b)-d.off < n {
		return nil, errShortBuffer
	}
	out := d.b[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) readU32() (uint32, error) {
	raw, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (d *decoder) readU64() (uint64, error) {
	raw, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(raw), nil
}

// readLen reads a u64 element count and bounds it by the remaining bytes so a
// corrupt prefix cannot force a huge allocation.
func (d *decoder) readLen() (int, error) {
	n, err := d.readU64()
	if err != nil {
		return 0, err
	}
	if n > uint64(len(d.b)-d.off) {
		return 0, fmt.Errorf("abi: length %d exceeds remaining %d bytes", n, len(d.b)-d.off)
	}
	return int(n), nil
}

func (d *decoder) readBool() (bool, error) {
	raw, err := d.take(1)
	if err != nil {
		return false, err
	}
	switch raw[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("abi: invalid bool byte %#x", raw[0])
	}
}

func (d *decoder) readString() (string, error) {
	n, err := d.readLen()
	if err != nil {
		return "", err
	}
	raw, err := d.take(n)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *decoder) readStrings() ([]string, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := d.readString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) readOptionString() (*string, error) {
	present, err := d.readBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	s, err := d.readString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *decoder) readParam() (Param, error) {
	var p Param
	var err error
	if p.Name, err = d.readString(); err != nil {
		return p, err
	}
	if p.Type, err = d.readString(); err != nil {
		return p, err
	}
	if p.InternalType, err = d.readOptionString(); err != nil {
		return p, err
	}
	return p, nil
}

func (d *decoder) readParams() ([]Param, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Param, 0, n)
	for i := 0; i < n; i++ {
		p, err := d.readParam()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *decoder) readFunction() (Function, error) {
	var f Function
	var err error
	if f.Name, err = d.readString(); err != nil {
		return f, err
	}
	if f.Inputs, err = d.readParams(); err != nil {
		return f, err
	}
	if f.Outputs, err = d.readParams(); err != nil {
		return f, err
	}
	if f.InputTypes, err = d.readStrings(); err != nil {
		return f, err
	}
	if f.OutputTypes, err = d.readStrings(); err != nil {
		return f, err
	}
	if f.StateMutability, err = d.readString(); err != nil {
		return f, err
	}
	if f.Constant, err = d.readBool(); err != nil {
		return f, err
	}
	if f.Payable, err = d.readBool(); err != nil {
		return f, err
	}
	raw, err := d.take(4)
	if err != nil {
		return f, err
	}
	copy(f.Selector[:], raw)
	if f.Signature, err = d.readString(); err != nil {
		return f, err
	}
	return f, nil
}

func (d *decoder) readFunctions() ([]Function, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Function, 0, n)
	for i := 0; i < n; i++ {
		f, err := d.readFunction()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (d *decoder) readOptionFunction() (*Function, error) {
	present, err := d.readBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	f, err := d.readFunction()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (d *decoder) readEvents() ([]Event, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		var ev Event
		if ev.Name, err = d.readString(); err != nil {
			return nil, err
		}
		m, err := d.readLen()
		if err != nil {
			return nil, err
		}
		ev.Inputs = make([]EventParam, 0, m)
		for j := 0; j < m; j++ {
			var p EventParam
			if p.Name, err = d.readString(); err != nil {
				return nil, err
			}
			if p.Type, err = d.readString(); err != nil {
				return nil, err
			}
			if p.Indexed, err = d.readBool(); err != nil {
				return nil, err
			}
			if p.InternalType, err = d.readOptionString(); err != nil {
				return nil, err
			}
			ev.Inputs = append(ev.Inputs, p)
		}
		if ev.Anonymous, err = d.readBool(); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (d *decoder) readErrors() ([]Error, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Error, 0, n)
	for i := 0; i < n; i++ {
		var er Error
		if er.Name, err = d.readString(); err != nil {
			return nil, err
		}
		if er.Inputs, err = d.readParams(); err != nil {
			return nil, err
		}
		out = append(out, er)
	}
	return out, nil
}

func (d *decoder) readStorageLayout() ([]StorageSlot, error) {
	n, err := d.readLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]StorageSlot, 0, n)
	for i := 0; i < n; i++ {
		var s StorageSlot
		if s.Index, err = d.readU64(); err != nil {
			return nil, err
		}
		if s.Offset, err = d.readU32(); err != nil {
			return nil, err
		}
		if s.Type, err = d.readString(); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *decoder) skipSelectorIndex() error {
	n, err := d.readLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.take(4); err != nil {
			return err
		}
		if _, err := d.readU64(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) skipNameIndex() error {
	n, err := d.readLen()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := d.readString(); err != nil {
			return err
		}
		if _, err := d.readU64(); err != nil {
			return err
		}
	}
	return nil
}
