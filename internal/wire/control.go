package wire

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Empty is a message without fields.
type Empty struct{}

func (*Empty) MarshalWire() ([]byte, error) { return nil, nil }
func (*Empty) UnmarshalWire([]byte) error   { return nil }

// PingRequest asks the host to echo a message.
type PingRequest struct {
	Message string
}

func (m *PingRequest) MarshalWire() ([]byte, error) {
	return appendString(nil, 1, m.Message), nil
}

func (m *PingRequest) UnmarshalWire(b []byte) error {
	*m = PingRequest{}
	return walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		if n == 1 && t == protowire.BytesType {
			m.Message = string(v)
		}
		return nil
	})
}

// PingReply echoes a ping with the host's clock in unix nanoseconds.
type PingReply struct {
	Message  string
	UnixNano int64
}

func (m *PingReply) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, m.Message)
	return appendInt64(b, 2, m.UnixNano), nil
}

func (m *PingReply) UnmarshalWire(b []byte) error {
	*m = PingReply{}
	return walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		switch {
		case n == 1 && t == protowire.BytesType:
			m.Message = string(v)
		case n == 2 && t == protowire.VarintType:
			m.UnixNano = varintInt64(v)
		}
		return nil
	})
}

// VersionReply describes the running host build.
type VersionReply struct {
	Version   string
	Commit    string
	BuildTime string
	GoVersion string
}

func (m *VersionReply) MarshalWire() ([]byte, error) {
	b := appendString(nil, 1, m.Version)
	b = appendString(b, 2, m.Commit)
	b = appendString(b, 3, m.GoVersion)
	return appendString(b, 4, m.BuildTime), nil
}

func (m *VersionReply) UnmarshalWire(b []byte) error {
	*m = VersionReply{}
	return walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		if t != protowire.BytesType {
			return nil
		}
		switch n {
		case 1:
			m.Version = string(v)
		case 2:
			m.Commit = string(v)
		case 3:
			m.GoVersion = string(v)
		case 4:
			m.BuildTime = string(v)
		}
		return nil
	})
}

// ServiceInfo summarizes one terminal service.
type ServiceInfo struct {
	ServiceID        string
	Persistent       bool
	TerminalCount    int32
	CreatedUnix      int64
	LastActivityUnix int64
}

// ServiceList is the reply of ListServices.
type ServiceList struct {
	Services []ServiceInfo
}

func (m *ServiceList) MarshalWire() ([]byte, error) {
	var b []byte
	for _, s := range m.Services {
		body := appendString(nil, 1, s.ServiceID)
		body = appendBool(body, 2, s.Persistent)
		body = appendInt32(body, 3, s.TerminalCount)
		body = appendInt64(body, 4, s.CreatedUnix)
		body = appendInt64(body, 5, s.LastActivityUnix)
		b = appendMessage(b, 1, body)
	}
	return b, nil
}

func (m *ServiceList) UnmarshalWire(b []byte) error {
	*m = ServiceList{}
	return walk(b, func(n protowire.Number, t protowire.Type, v []byte) error {
		if n != 1 || t != protowire.BytesType {
			return nil
		}
		var s ServiceInfo
		err := walk(v, func(fn protowire.Number, ft protowire.Type, fv []byte) error {
			switch {
			case fn == 1 && ft == protowire.BytesType:
				s.ServiceID = string(fv)
			case fn == 2 && ft == protowire.VarintType:
				s.Persistent = varint(fv) != 0
			case fn == 3 && ft == protowire.VarintType:
				s.TerminalCount = varintInt32(fv)
			case fn == 4 && ft == protowire.VarintType:
				s.CreatedUnix = varintInt64(fv)
			case fn == 5 && ft == protowire.VarintType:
				s.LastActivityUnix = varintInt64(fv)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.Services = append(m.Services, s)
		return nil
	})
}
