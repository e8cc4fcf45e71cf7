package terminal

// Action is an inbound request from a controller. The set of implementations
// is closed: OpenAction, ResizeAction, DataAction and CloseAction.
type Action interface {
	isAction()
}

// OpenAction creates a terminal, or re-attaches to a live one with the same id.
type OpenAction struct {
	TerminalID int32
	Rows       uint16
	Cols       uint16
}

// ResizeAction changes a terminal's window size.
type ResizeAction struct {
	TerminalID int32
	Rows       uint16
	Cols       uint16
}

// DataAction carries controller keystrokes for a terminal.
type DataAction struct {
	TerminalID int32
	Data       []byte
}

// CloseAction terminates a terminal.
type CloseAction struct {
	TerminalID int32
}

func (OpenAction) isAction()   {}
func (ResizeAction) isAction() {}
func (DataAction) isAction()   {}
func (CloseAction) isAction()  {}

// Response is an outbound message to a controller. The set of implementations
// is closed: OpenedResponse, DataResponse, ClosedResponse and ErrorResponse.
type Response interface {
	isResponse()
}

// OpenedResponse answers an OpenAction. PersistentSessions lists the other
// live terminal ids when the controller has to rebuild its terminal list.
type OpenedResponse struct {
	TerminalID         int32
	Success            bool
	Message            string
	Pid                uint32
	ServiceID          string
	PersistentSessions []int32
}

// DataResponse carries terminal output. Data is zstd-compressed when
// Compressed is set.
type DataResponse struct {
	TerminalID int32
	Data       []byte
	Compressed bool
}

// ClosedResponse reports that a terminal ended. ExitCode -1 means the host
// killed the process.
type ClosedResponse struct {
	TerminalID int32
	ExitCode   int32
}

// ErrorResponse reports a failed action.
type ErrorResponse struct {
	Message string
}

func (OpenedResponse) isResponse() {}
func (DataResponse) isResponse()   {}
func (ClosedResponse) isResponse() {}
func (ErrorResponse) isResponse()  {}

// ForcedExitCode is reported when a terminal is closed by the controller while
// its process was still running.
const ForcedExitCode int32 = -1
