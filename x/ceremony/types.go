// Package ceremony defines the document model shared between the contributor
// client and the ceremony coordination store: ceremonies, circuits,
// participants, contributions and timeouts, plus the artifact naming scheme.
package ceremony

import "sort"

// ParticipantStatus is the server-owned lifecycle status of a participant.
type ParticipantStatus string

const (
	StatusCreated      ParticipantStatus = "CREATED"
	StatusWaiting      ParticipantStatus = "WAITING"
	StatusContributing ParticipantStatus = "CONTRIBUTING"
	StatusContributed  ParticipantStatus = "CONTRIBUTED"
	StatusDone         ParticipantStatus = "DONE"
	StatusTimedOut     ParticipantStatus = "TIMEDOUT"
	StatusExhumed      ParticipantStatus = "EXHUMED"
)

// ContributionStep is the step the participant is currently in for the
// circuit bound by ContributionProgress. Empty means no step has started.
type ContributionStep string

const (
	StepNone        ContributionStep = ""
	StepDownloading ContributionStep = "DOWNLOADING"
	StepComputing   ContributionStep = "COMPUTING"
	StepUploading   ContributionStep = "UPLOADING"
	StepVerifying   ContributionStep = "VERIFYING"
	StepCompleted   ContributionStep = "COMPLETED"
)

// Resumable reports whether the client can drive this step itself. VERIFYING
// is excluded: the verifier advances it server-side.
func (s ContributionStep) Resumable() bool {
	return s == StepDownloading || s == StepComputing || s == StepUploading
}

// Ceremony is the immutable-per-run ceremony record.
type Ceremony struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Prefix   string    `json:"prefix"`
	Circuits []Circuit `json:"circuits,omitempty"`
}

// AvgTimings carries the rolling average durations, in milliseconds, used
// for queue wait estimation. Zero means unknown.
type AvgTimings struct {
	FullContribution    int64 `json:"fullContribution"`
	VerifyCloudFunction int64 `json:"verifyCloudFunction"`
}

// WaitingQueue is the per-circuit contributor queue. The current contributor
// is either empty or the head of Contributors.
type WaitingQueue struct {
	CurrentContributor     string   `json:"currentContributor"`
	Contributors           []string `json:"contributors"`
	CompletedContributions int      `json:"completedContributions"`
}

// Position returns the 1-based queue position of the participant, or 0 when
// the participant is not in the queue.
func (q WaitingQueue) Position(participantID string) int {
	for i, id := range q.Contributors {
		if id == participantID {
			return i + 1
		}
	}
	return 0
}

// Circuit is one SNARK circuit within a ceremony. SequencePosition is
// 1-based and fixes the contribution order.
type Circuit struct {
	ID               string       `json:"id"`
	SequencePosition int          `json:"sequencePosition"`
	Prefix           string       `json:"prefix"`
	AvgTimings       AvgTimings   `json:"avgTimings"`
	WaitingQueue     WaitingQueue `json:"waitingQueue"`
}

// SortCircuits orders circuits by sequence position in place.
func SortCircuits(circuits []Circuit) {
	sort.Slice(circuits, func(i, j int) bool {
		return circuits[i].SequencePosition < circuits[j].SequencePosition
	})
}

// Contribution is the server-written record of one completed contribution.
// ParticipantID is set on the documents in a circuit's contributions
// collection and empty on the copies embedded in a participant.
type Contribution struct {
	ParticipantID string `json:"participantId,omitempty"`
	ZkeyIndex     string `json:"zkeyIndex"`
	Hash          string `json:"hash"`
	TimeMs        int64  `json:"contributionComputationTime"`
	Valid         bool   `json:"valid"`
}

// ETagPart identifies one acknowledged part of a multipart upload.
type ETagPart struct {
	Number int32  `json:"partNumber"`
	ETag   string `json:"etag"`
}

// TempContributionData is the per-step scratch the server keeps for the
// participant so interrupted uploads can resume past acknowledged parts.
type TempContributionData struct {
	UploadID string     `json:"uploadId,omitempty"`
	Chunks   []ETagPart `json:"chunks,omitempty"`
}

// Equal compares upload id, chunk key-set and chunk value-multiset,
// ignoring chunk order.
func (t *TempContributionData) Equal(o *TempContributionData) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.UploadID != o.UploadID || len(t.Chunks) != len(o.Chunks) {
		return false
	}
	seen := make(map[ETagPart]int, len(t.Chunks))
	for _, c := range t.Chunks {
		seen[c]++
	}
	for _, c := range o.Chunks {
		seen[c]--
		if seen[c] < 0 {
			return false
		}
	}
	return true
}

// Participant is the server-owned participant record. The client never
// mutates it directly; all transitions go through server callables.
type Participant struct {
	ID                   string                `json:"id"`
	Status               ParticipantStatus     `json:"status"`
	ContributionProgress int                   `json:"contributionProgress"`
	ContributionStep     ContributionStep      `json:"contributionStep"`
	Contributions        []Contribution        `json:"contributions"`
	TempContributionData *TempContributionData `json:"tempContributionData,omitempty"`
}

// SameState reports whether two snapshots carry the same logical state.
// Used by the dispatcher for change detection under redelivery.
func (p Participant) SameState(o Participant) bool {
	return p.Status == o.Status &&
		p.ContributionStep == o.ContributionStep &&
		p.ContributionProgress == o.ContributionProgress &&
		len(p.Contributions) == len(o.Contributions) &&
		p.TempContributionData.Equal(o.TempContributionData)
}

// LastContribution returns the most recent contribution record, if any.
func (p Participant) LastContribution() (Contribution, bool) {
	if len(p.Contributions) == 0 {
		return Contribution{}, false
	}
	return p.Contributions[len(p.Contributions)-1], true
}

// Timeout is a cool-down record attached to a timed-out participant.
// EndDate is absolute wall-clock milliseconds.
type Timeout struct {
	EndDate int64 `json:"endDate"`
}
