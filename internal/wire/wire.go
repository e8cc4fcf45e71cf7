// Package wire encodes terminal actions, responses and control messages in
// protobuf wire format with hand-maintained field numbers, and registers a
// grpc codec for them.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/antonkrylov/termhost/internal/terminal"
)

// Message is implemented by every type the codec can carry.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire([]byte) error
}

var errEmptyUnion = errors.New("message carries no variant")

// Field numbers of the TerminalAction union.
const (
	actionOpen   protowire.Number = 1
	actionResize protowire.Number = 2
	actionData   protowire.Number = 3
	actionClose  protowire.Number = 4
)

// Field numbers of the TerminalResponse union.
const (
	responseOpened protowire.Number = 1
	responseData   protowire.Number = 2
	responseClosed protowire.Number = 3
	responseError  protowire.Number = 4
)

// ActionFrame carries one controller action.
type ActionFrame struct {
	Action terminal.Action
}

// ResponseFrame carries one host response.
type ResponseFrame struct {
	Response terminal.Response
}

func (f *ActionFrame) MarshalWire() ([]byte, error) {
	var (
		num  protowire.Number
		body []byte
	)
	switch a := f.Action.(type) {
	case terminal.OpenAction:
		num = actionOpen
		body = appendSize(nil, a.TerminalID, a.Rows, a.Cols)
	case terminal.ResizeAction:
		num = actionResize
		body = appendSize(nil, a.TerminalID, a.Rows, a.Cols)
	case terminal.DataAction:
		num = actionData
		body = appendData(nil, a.TerminalID, a.Data, false)
	case terminal.CloseAction:
		num = actionClose
		body = appendInt32(nil, 1, a.TerminalID)
	case nil:
		return nil, errEmptyUnion
	default:
		return nil, fmt.Errorf("unsupported action %T", f.Action)
	}
	return appendMessage(nil, num, body), nil
}

func (f *ActionFrame) UnmarshalWire(b []byte) error {
	f.Action = nil
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case actionOpen, actionResize:
			id, rows, cols, err := parseSize(v)
			if err != nil {
				return err
			}
			if num == actionOpen {
				f.Action = terminal.OpenAction{TerminalID: id, Rows: rows, Cols: cols}
			} else {
				f.Action = terminal.ResizeAction{TerminalID: id, Rows: rows, Cols: cols}
			}
		case actionData:
			d, err := parseData(v)
			if err != nil {
				return err
			}
			f.Action = terminal.DataAction{TerminalID: d.TerminalID, Data: d.Data}
		case actionClose:
			var id int32
			err := walk(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
				if n == 1 && t == protowire.VarintType {
					id = varintInt32(fv)
				}
				return nil
			})
			if err != nil {
				return err
			}
			f.Action = terminal.CloseAction{TerminalID: id}
		}
		return nil
	}, errEmptyUnionIfNil(func() bool { return f.Action == nil }))
}

func (f *ResponseFrame) MarshalWire() ([]byte, error) {
	var (
		num  protowire.Number
		body []byte
	)
	switch r := f.Response.(type) {
	case terminal.OpenedResponse:
		num = responseOpened
		body = appendInt32(body, 1, r.TerminalID)
		body = appendBool(body, 2, r.Success)
		body = appendString(body, 3, r.Message)
		if r.Pid != 0 {
			body = protowire.AppendTag(body, 4, protowire.VarintType)
			body = protowire.AppendVarint(body, uint64(r.Pid))
		}
		body = appendString(body, 5, r.ServiceID)
		if len(r.PersistentSessions) > 0 {
			var packed []byte
			for _, id := range r.PersistentSessions {
				packed = protowire.AppendVarint(packed, uint64(int64(id)))
			}
			body = protowire.AppendTag(body, 6, protowire.BytesType)
			body = protowire.AppendBytes(body, packed)
		}
	case terminal.DataResponse:
		num = responseData
		body = appendData(nil, r.TerminalID, r.Data, r.Compressed)
	case terminal.ClosedResponse:
		num = responseClosed
		body = appendInt32(body, 1, r.TerminalID)
		body = appendInt32(body, 2, r.ExitCode)
	case terminal.ErrorResponse:
		num = responseError
		body = appendString(body, 2, r.Message)
	case nil:
		return nil, errEmptyUnion
	default:
		return nil, fmt.Errorf("unsupported response %T", f.Response)
	}
	return appendMessage(nil, num, body), nil
}

func (f *ResponseFrame) UnmarshalWire(b []byte) error {
	f.Response = nil
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case responseOpened:
			r, err := parseOpened(v)
			if err != nil {
				return err
			}
			f.Response = r
		case responseData:
			d, err := parseData(v)
			if err != nil {
				return err
			}
			f.Response = d
		case responseClosed:
			var r terminal.ClosedResponse
			err := walk(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
				if t != protowire.VarintType {
					return nil
				}
				switch n {
				case 1:
					r.TerminalID = varintInt32(fv)
				case 2:
					r.ExitCode = varintInt32(fv)
				}
				return nil
			})
			if err != nil {
				return err
			}
			f.Response = r
		case responseError:
			var r terminal.ErrorResponse
			err := walk(v, func(n protowire.Number, t protowire.Type, fv []byte) error {
				if n == 2 && t == protowire.BytesType {
					r.Message = string(fv)
				}
				return nil
			})
			if err != nil {
				return err
			}
			f.Response = r
		}
		return nil
	}, errEmptyUnionIfNil(func() bool { return f.Response == nil }))
}

func parseOpened(b []byte) (terminal.OpenedResponse, error) {
	var r terminal.OpenedResponse
	err := walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		switch {
		case n == 1 && t == protowire.VarintType:
			r.TerminalID = varintInt32(v)
		case n == 2 && t == protowire.VarintType:
			r.Success = varint(v) != 0
		case n == 3 && t == protowire.BytesType:
			r.Message = string(v)
		case n == 4 && t == protowire.VarintType:
			r.Pid = uint32(varint(v))
		case n == 5 && t == protowire.BytesType:
			r.ServiceID = string(v)
		case n == 6 && t == protowire.BytesType:
			for len(v) > 0 {
				x, m := protowire.ConsumeVarint(v)
				if m < 0 {
					return protowire.ParseError(m)
				}
				r.PersistentSessions = append(r.PersistentSessions, int32(x))
				v = v[m:]
			}
		case n == 6 && t == protowire.VarintType:
			r.PersistentSessions = append(r.PersistentSessions, varintInt32(v))
		}
		return nil
	})
	return r, err
}

func parseSize(b []byte) (id int32, rows, cols uint16, err error) {
	err = walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		if t != protowire.VarintType {
			return nil
		}
		switch n {
		case 1:
			id = varintInt32(v)
		case 2:
			rows = uint16(varint(v))
		case 3:
			cols = uint16(varint(v))
		}
		return nil
	})
	return id, rows, cols, err
}

func parseData(b []byte) (terminal.DataResponse, error) {
	var d terminal.DataResponse
	err := walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		switch {
		case n == 1 && t == protowire.VarintType:
			d.TerminalID = varintInt32(v)
		case n == 2 && t == protowire.BytesType:
			d.Data = append([]byte(nil), v...)
		case n == 3 && t == protowire.VarintType:
			d.Compressed = varint(v) != 0
		}
		return nil
	})
	return d, err
}

func appendSize(b []byte, id int32, rows, cols uint16) []byte {
	b = appendInt32(b, 1, id)
	b = appendUint(b, 2, uint64(rows))
	return appendUint(b, 3, uint64(cols))
}

func appendData(b []byte, id int32, data []byte, compressed bool) []byte {
	b = appendInt32(b, 1, id)
	if len(data) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
	}
	return appendBool(b, 3, compressed)
}
