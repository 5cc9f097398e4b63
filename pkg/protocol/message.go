// Package protocol defines the frames exchanged between the coordinator and
// runners. Every frame is a JSON envelope {"kind": ..., "data": {...}}.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	// ErrWebSocketConnection marks failures to establish the socket itself,
	// as opposed to failures of frames sent over it.
	ErrWebSocketConnection = errors.New("websocket connection error")
)

type Kind string

const (
	KindRunExperiment Kind = "RunExperiment"
	KindRunAccepted   Kind = "RunAccepted"
	KindRunResult     Kind = "RunResult"
)

type Message interface {
	Kind() Kind
}

// RunExperiment is sent by the coordinator to start a job on a runner.
type RunExperiment struct {
	JobID int64  `json:"job_id"`
	Code  string `json:"code"`
}

func (RunExperiment) Kind() Kind { return KindRunExperiment }

func (m *RunExperiment) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID *int64  `json:"job_id"`
		RunID *int64  `json:"run_id"`
		Code  *string `json:"code"`
	}
	if err := strictUnmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.JobID != nil:
		m.JobID = *aux.JobID
	case aux.RunID != nil:
		m.JobID = *aux.RunID
	default:
		return errors.New("missing job_id")
	}
	if aux.Code == nil {
		return errors.New("missing code")
	}
	m.Code = *aux.Code
	return nil
}

// RunAccepted acknowledges that a runner received a job and is starting it.
type RunAccepted struct {
	JobID int64 `json:"job_id"`
}

func (RunAccepted) Kind() Kind { return KindRunAccepted }

func (m *RunAccepted) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID *int64 `json:"job_id"`
	}
	if err := strictUnmarshal(data, &aux); err != nil {
		return err
	}
	if aux.JobID == nil {
		return errors.New("missing job_id")
	}
	m.JobID = *aux.JobID
	return nil
}

type RunResult struct {
	JobID      int64  `json:"job_id"`
	Successful bool   `json:"successful"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (RunResult) Kind() Kind { return KindRunResult }

func (m *RunResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		JobID      *int64 `json:"job_id"`
		Successful *bool  `json:"successful"`
		Output     string `json:"output"`
		Error      string `json:"error"`
	}
	if err := strictUnmarshal(data, &aux); err != nil {
		return err
	}
	if aux.JobID == nil || aux.Successful == nil {
		return errors.New("missing job_id or successful")
	}
	*m = RunResult{
		JobID:      *aux.JobID,
		Successful: *aux.Successful,
		Output:     aux.Output,
		Error:      aux.Error,
	}
	return nil
}

type envelope struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Data: data})
}

// Decode parses a text frame. Frames with an unknown kind or with data not
// matching their kind yield ErrInvalidMessage.
func Decode(frame []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, fmt.Errorf("%w: missing data", ErrInvalidMessage)
	}

	var msg Message
	var err error
	switch env.Kind {
	case KindRunExperiment:
		m := &RunExperiment{}
		err = json.Unmarshal(env.Data, m)
		msg = *m
	case KindRunAccepted:
		m := &RunAccepted{}
		err = json.Unmarshal(env.Data, m)
		msg = *m
	case KindRunResult:
		m := &RunResult{}
		err = json.Unmarshal(env.Data, m)
		msg = *m
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidMessage, env.Kind, err)
	}
	return msg, nil
}

func strictUnmarshal(data []byte, v any) error {
	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return errors.New("data is not an object")
	}
	return json.Unmarshal(data, v)
}
