package types

import (
	"time"

	"github.com/rs/zerolog"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusMatching    Status = "matching"
	StatusDownloading Status = "downloading"
	StatusConverting  Status = "converting"
	StatusDone        Status = "done"
	StatusFailed      Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusMatching:
		return 1
	case StatusDownloading:
		return 2
	case StatusConverting:
		return 3
	case StatusDone:
		return 4
	case StatusFailed:
		return 5
	default:
		return -1
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status
// order monotonic. Staying in the same non-terminal status is allowed, and
// any non-terminal status may fail.
func (s Status) CanTransitionTo(next Status) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}

	if next == StatusFailed {
		return true
	}

	if next == StatusDone {
		return s == StatusConverting
	}

	return next.rank() >= s.rank()
}

type FailureCode string

const (
	FailureNone                FailureCode = ""
	FailureNoMatch             FailureCode = "no-match"
	FailureAllSourcesExhausted FailureCode = "all-sources-exhausted"
	FailureBadStatus           FailureCode = "bad-status"
	FailureWrongContentType    FailureCode = "wrong-content-type"
	FailureTooSmall            FailureCode = "too-small"
	FailureBadHeader           FailureCode = "bad-header"
	FailureTooShort            FailureCode = "too-short"
	FailureConversion          FailureCode = "conversion-failed"
	FailurePersistence         FailureCode = "persistence-failed"
	FailureCanceled            FailureCode = "canceled"
	FailureInternal            FailureCode = "internal"
)

type Stage string

const (
	StageResolve  Stage = "resolve"
	StageDownload Stage = "download"
	StageValidate Stage = "validate"
	StageConvert  Stage = "convert"
	StagePersist  Stage = "persist"
)

type DebugContext struct {
	Stage       Stage  `json:"stage,omitempty"`
	Query       string `json:"query,omitempty"`
	CandidateID string `json:"candidate_id,omitempty"`
	Tier        string `json:"tier,omitempty"`
	RawError    string `json:"raw_error,omitempty"`
}

// StagedPayload is a validated download waiting for conversion. It is kept
// on the entry so that an interrupted conversion resumes from it.
type StagedPayload struct {
	Path      string    `json:"path"`
	Container Container `json:"container"`
	Tier      string    `json:"tier"`
}

type QueueEntry struct {
	ID               string         `json:"id"`
	Ref              TrackReference `json:"ref"`
	Status           Status         `json:"status"`
	Progress         float64        `json:"progress"`
	RetryCount       int            `json:"retry_count"`
	Candidates       []Candidate    `json:"candidates,omitempty"`
	CurrentCandidate int            `json:"current_candidate"`
	Tried            []int          `json:"tried,omitempty"`
	FailureCode      FailureCode    `json:"failure_code,omitempty"`
	Debug            DebugContext   `json:"debug"`
	Staged           *StagedPayload `json:"staged,omitempty"`
	ArtifactPath     string         `json:"artifact_path,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func NewQueueEntry(id string, ref TrackReference, now time.Time) QueueEntry {
	return QueueEntry{ //nolint:exhaustruct
		ID:        id,
		Ref:       ref,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand out to readers.
func (e QueueEntry) Clone() QueueEntry {
	out := e
	if nil != e.Candidates {
		out.Candidates = append([]Candidate(nil), e.Candidates...)
	}
	if nil != e.Tried {
		out.Tried = append([]int(nil), e.Tried...)
	}
	if nil != e.Staged {
		staged := *e.Staged
		out.Staged = &staged
	}

	return out
}

func (e QueueEntry) Candidate() (Candidate, bool) {
	if e.CurrentCandidate < 0 || e.CurrentCandidate >= len(e.Candidates) {
		return Candidate{}, false //nolint:exhaustruct
	}

	return e.Candidates[e.CurrentCandidate], true
}

func (e QueueEntry) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("id", e.ID).
		Str("external_id", e.Ref.ExternalID).
		Str("status", string(e.Status)).
		Float64("progress", e.Progress).
		Int("retry_count", e.RetryCount).
		Int("candidates", len(e.Candidates)).
		Str("failure_code", string(e.FailureCode))
}
