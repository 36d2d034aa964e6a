package jobs

import (
	"errors"
	"time"
)

// State はジョブの実行状態を表します。
type State string

const (
	StatePending       State = "pending"
	StateCompleted     State = "completed"
	StateErrorInternal State = "error_internal"
	StateErrorUpstream State = "error_upstream"
)

// Terminal は状態が終端（Pending 以外）かどうかを返します。
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateErrorInternal, StateErrorUpstream:
		return true
	default:
		return false
	}
}

var (
	ErrNotFound       = errors.New("job not found")
	ErrForbidden      = errors.New("job belongs to another user")
	ErrEmptyDocument  = errors.New("document is empty")
	ErrInvalidOwner   = errors.New("job owner is required")
	ErrQueueFull      = errors.New("dispatch queue is full")
	ErrDuplicateJob   = errors.New("job id already exists")
	ErrAlreadyDone    = errors.New("job already reached a terminal state")
	ErrDispatcherDown = errors.New("dispatcher is closed")
)

// Record はジョブテーブルに保存される1件分の状態です。
type Record struct {
	JobID       string     `json:"jobId"`
	Owner       string     `json:"owner"`
	State       State      `json:"state"`
	Result      string     `json:"result,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// View は取得時に呼び出し側へ返すジョブの見え方です。
type View struct {
	JobID  string
	State  State
	Result string
}

func (r *Record) view() *View {
	return &View{JobID: r.JobID, State: r.State, Result: r.Result}
}

// Outcome はワーカーが書き戻す終端状態です。
type Outcome struct {
	State  State
	Result string
}

// Task はディスパッチキューに積まれる1件分の処理依頼です。
type Task struct {
	JobID       string `json:"jobId"`
	Document    []byte `json:"document"`
	ContentType string `json:"contentType,omitempty"`
}
