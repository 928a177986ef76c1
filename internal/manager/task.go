// internal/manager/task.go
package manager

import (
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/modbus-transport/internal/endpoint"
	"github.com/tamzrod/modbus-transport/internal/request"
)

// ReadCallback receives the outcome of a read. Exactly one method is
// called per execution, on a manager goroutine.
//
// Implementations used in PollTask must be comparable (pointer receivers).
type ReadCallback interface {
	OnBits(req request.Read, bits request.BitArray)
	OnRegisters(req request.Read, regs request.RegisterArray)
	OnError(req request.Read, err error)
}

// WriteCallback receives the outcome of a write.
type WriteCallback interface {
	OnWriteResponse(req request.Write, ack request.WriteAck)
	OnError(req request.Write, err error)
}

// ReadTask is a read against one endpoint.
type ReadTask struct {
	Endpoint endpoint.Endpoint
	Request  request.Read
	Callback ReadCallback
}

func (t ReadTask) validate() error {
	if t.Callback == nil {
		return &request.ConfigurationError{Reason: "read task has no callback"}
	}
	if err := t.Endpoint.Validate(); err != nil {
		return &request.ConfigurationError{Reason: err.Error()}
	}
	return t.Request.Validate()
}

func (t ReadTask) String() string {
	return fmt.Sprintf("%s %s", t.Endpoint, t.Request)
}

// PollTask is a ReadTask fired every Period. It is a comparable value and
// identifies its registration: two equal PollTasks are the same poll.
type PollTask struct {
	ReadTask
	Period       time.Duration
	InitialDelay time.Duration
}

// PollHandle is returned by RegisterRegularPoll.
type PollHandle struct {
	ID   uuid.UUID
	Task PollTask
}

// WriteTask is a one-shot write against one endpoint.
type WriteTask struct {
	Endpoint endpoint.Endpoint
	Request  request.Write
	Callback WriteCallback
}

func (t WriteTask) validate() error {
	if t.Callback == nil {
		return &request.ConfigurationError{Reason: "write task has no callback"}
	}
	if err := t.Endpoint.Validate(); err != nil {
		return &request.ConfigurationError{Reason: err.Error()}
	}
	return t.Request.Validate()
}

// isComparable reports whether v can be used inside a map key without
// panicking. The dynamic values behind interface fields count too: a struct
// whose interface field holds a func is not usable as a key.
func isComparable(v any) bool {
	if v == nil {
		return true
	}
	return hashable(reflect.ValueOf(v))
}

func hashable(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Func, reflect.Map, reflect.Slice:
		return false
	case reflect.Interface:
		return v.IsNil() || hashable(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !hashable(v.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !hashable(v.Index(i)) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// ---- outcome ----

type readOutcome struct {
	task   ReadTask
	result request.ReadResult
	err    error
}

func (o readOutcome) deliver() {
	cb := o.task.Callback
	switch {
	case o.err != nil:
		cb.OnError(o.task.Request, o.err)
	case o.task.Request.Function.ReadsBits():
		cb.OnBits(o.task.Request, o.result.Bits)
	default:
		cb.OnRegisters(o.task.Request, o.result.Registers)
	}
}

type writeOutcome struct {
	task WriteTask
	ack  request.WriteAck
	err  error
}

func (o writeOutcome) deliver() {
	if o.err != nil {
		o.task.Callback.OnError(o.task.Request, o.err)
		return
	}
	o.task.Callback.OnWriteResponse(o.task.Request, o.ack)
}
