package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/longtask/types"
)

// Result is the outcome of one invocation. It is a closed set: Continue,
// Done, Failed and Aborted are the only implementations.
type Result interface {
	// Status is the record status the result leads to.
	Status() Status
	isResult()
}

// Continue means work remains. Input carries the cursor for the next
// invocation; Delay is the minimum wait before it.
type Continue struct {
	Input json.RawMessage
	Delay time.Duration
}

// Done is terminal success.
type Done struct {
	Output json.RawMessage
}

// Failed is terminal failure.
type Failed struct {
	Info ErrorInfo
}

// Aborted is terminal, caused by an observed cancellation request.
type Aborted struct{}

func (Continue) Status() Status { return StatusRunning }
func (Done) Status() Status     { return StatusDone }
func (Failed) Status() Status   { return StatusError }
func (Aborted) Status() Status  { return StatusAborted }

func (Continue) isResult() {}
func (Done) isResult()     {}
func (Failed) isResult()   {}
func (Aborted) isResult()  {}

// Response builds results for a runner. It performs no I/O.
type Response struct{}

// Continue returns a Continue result with input marshalled to JSON and an
// optional delay.
func (Response) Continue(input any, delay ...time.Duration) Result {
	raw, err := marshal(input)
	if err != nil {
		return serializationFailure("continue input", err)
	}
	var d time.Duration
	if len(delay) > 0 && delay[0] > 0 {
		d = delay[0]
	}
	return Continue{Input: raw, Delay: d}
}

// Done returns a Done result. A nil output is stored as no output.
func (Response) Done(output any) Result {
	raw, err := marshal(output)
	if err != nil {
		return serializationFailure("done output", err)
	}
	return Done{Output: raw}
}

// Error converts err into a Failed result. *types.Error keeps its code,
// message and data; any other error becomes INTERNAL_ERROR.
func (Response) Error(err error) Result {
	return Failed{Info: ErrorInfoFrom(err)}
}

// Fail returns a Failed result with an explicit code.
func (Response) Fail(code types.ErrorCode, message string, data map[string]any) Result {
	return Failed{Info: ErrorInfo{Code: code, Message: message, Data: data}}
}

// Aborted returns an Aborted result.
func (Response) Aborted() Result {
	return Aborted{}
}

// ErrorInfoFrom maps an error to the structured form stored on a record.
func ErrorInfoFrom(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Code: types.ErrInternalError, Message: "unknown error"}
	}
	if e, ok := types.AsError(err); ok {
		info := ErrorInfo{Code: e.Code, Message: e.Message, Data: e.Data}
		if e.Cause != nil {
			info.Message = fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return info
	}
	return ErrorInfo{Code: types.ErrInternalError, Message: err.Error()}
}

func marshal(v any) (json.RawMessage, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return append(json.RawMessage(nil), x...), nil
	case []byte:
		if !json.Valid(x) {
			return nil, fmt.Errorf("invalid JSON")
		}
		return append(json.RawMessage(nil), x...), nil
	default:
		return json.Marshal(v)
	}
}

func serializationFailure(what string, err error) Result {
	return Failed{Info: ErrorInfo{
		Code:    types.ErrSerialization,
		Message: fmt.Sprintf("failed to serialize %s: %v", what, err),
	}}
}
