package contributor

import "github.com/zkceremony/contributor/x/ceremony"

// Predicates is the derived view of one participant snapshot against the
// previous one. The dispatcher acts on this struct only; deriving it has no
// side effects.
type Predicates struct {
	// NeedsFirstCircuit: freshly approved participant that has never been
	// assigned a circuit.
	NeedsFirstCircuit bool

	IsWaiting            bool
	IsCurrentContributor bool

	// ProgressToNext: the current circuit's step sequence has completed.
	ProgressToNext        bool
	CompletedContribution bool

	TimeoutTriggeredWhileContributing bool
	TimeoutExpired                    bool

	ContributedToEveryCircuit bool

	HasResumableStep               bool
	StartingOrResumingContribution bool

	ResumingVerification     bool
	ReportVerificationResult bool
}

// Derive computes the predicate set for one snapshot. prev is nil on the
// first snapshot of a session; circ is nil when the participant's progress
// does not bind a circuit.
func Derive(prev *ceremony.Participant, cur ceremony.Participant, circ *ceremony.Circuit, totalCircuits int) Predicates {
	noChange := prev == nil || cur.SameState(*prev)
	statusUnchanged := prev == nil || prev.Status == cur.Status
	contributionsUnchanged := prev == nil || len(cur.Contributions) == len(prev.Contributions)

	var p Predicates

	p.NeedsFirstCircuit = cur.Status == ceremony.StatusWaiting &&
		cur.ContributionStep == ceremony.StepNone &&
		len(cur.Contributions) == 0 &&
		cur.ContributionProgress == 0

	p.IsWaiting = cur.Status == ceremony.StatusWaiting

	p.IsCurrentContributor = cur.Status == ceremony.StatusContributing &&
		circ != nil && circ.WaitingQueue.CurrentContributor == cur.ID

	p.ProgressToNext = cur.ContributionStep == ceremony.StepCompleted
	p.CompletedContribution = p.ProgressToNext && cur.Status == ceremony.StatusContributed

	p.TimeoutTriggeredWhileContributing = cur.Status == ceremony.StatusTimedOut &&
		cur.ContributionStep != ceremony.StepCompleted
	p.TimeoutExpired = cur.Status == ceremony.StatusExhumed

	p.ContributedToEveryCircuit = cur.Status == ceremony.StatusDone &&
		cur.ContributionStep == ceremony.StepCompleted &&
		cur.ContributionProgress == totalCircuits &&
		len(cur.Contributions) == totalCircuits

	p.HasResumableStep = cur.ContributionStep.Resumable()

	p.StartingOrResumingContribution = startingOrResuming(prev, cur, noChange, contributionsUnchanged)

	p.ResumingVerification = p.IsCurrentContributor &&
		cur.ContributionStep == ceremony.StepVerifying &&
		noChange

	p.ReportVerificationResult = p.ProgressToNext && statusUnchanged &&
		(cur.Status == ceremony.StatusDone || cur.Status == ceremony.StatusContributed)

	return p
}

// startingOrResuming distinguishes a legitimate (re)entry into the step
// sequence from a snapshot the pipeline is already driving.
func startingOrResuming(prev *ceremony.Participant, cur ceremony.Participant, noChange, contributionsUnchanged bool) bool {
	switch cur.ContributionStep {
	case ceremony.StepDownloading:
		if noChange {
			return true
		}
		return prev.ContributionStep != cur.ContributionStep ||
			prev.Status == ceremony.StatusExhumed ||
			prev.ContributionStep == ceremony.StepNone

	case ceremony.StepComputing:
		return noChange && contributionsUnchanged

	case ceremony.StepUploading:
		if noChange && cur.TempContributionData == nil &&
			(prev == nil || prev.TempContributionData == nil) {
			return true
		}
		if cur.TempContributionData == nil {
			return false
		}
		// Interrupted multipart upload: a relaunched session sees the
		// surviving journal before any previous snapshot exists, a live one
		// sees it unchanged on redelivery.
		return prev == nil || cur.TempContributionData.Equal(prev.TempContributionData)
	}
	return false
}
