// Package ipcmsg defines the typed message envelopes exchanged between the
// controller and a worker process over the worker's stdin/stdout pipe. Every
// payload here is a plain, JSON-serializable value: the controller and
// worker never share references across the process boundary.
package ipcmsg

import "encoding/json"

// Event names the message shapes in both directions.
type Event string

const (
	EventGetWorkerInfo Event = "getWorkerInfo"
	EventSetDatabase   Event = "setDatabase"
	EventTaskSingle    Event = "taskSingle"
	EventTaskBatch     Event = "taskBatch"
	EventWorkerInfo    Event = "workerInfo"
	EventTaskInfo      Event = "taskInfo"
)

// WorkerInfo is the cached snapshot of a worker's load, refreshed on a
// polling interval and read by the scheduler without locking.
type WorkerInfo struct {
	WorkerID      string `json:"workerId"`
	ProcessID     int    `json:"processId"`
	TaskLoad      int    `json:"taskLoad"`
	MaxLoad       int    `json:"maxLoad"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// ParentMessage is sent from the controller to a worker.
type ParentMessage struct {
	Event Event             `json:"event"`
	Task  json.RawMessage   `json:"task,omitempty"`
	Batch []json.RawMessage `json:"batch,omitempty"`
	DB    bool              `json:"db,omitempty"`
}

// ChildMessage is sent from a worker back to the controller.
type ChildMessage struct {
	Event     Event           `json:"event"`
	Data      *WorkerInfo     `json:"data,omitempty"`
	Task      json.RawMessage `json:"task,omitempty"`
	Error     *string         `json:"error,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	WorkerID  string          `json:"workerId,omitempty"`
	ProcessID int             `json:"processId,omitempty"`
}

// ToJSON serializes m as a single line, ready to write to the child's stdin.
func (m *ParentMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses one line of the child's stdin protocol.
func (m *ParentMessage) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}

// ToJSON serializes m as a single line, ready to write to the parent's
// stdout-reading pipe.
func (m *ChildMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses one line of the parent's stdout-reading protocol.
func (m *ChildMessage) FromJSON(data []byte) error {
	return json.Unmarshal(data, m)
}
