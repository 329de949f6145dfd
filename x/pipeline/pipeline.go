// Package pipeline executes the per-circuit contribution progression:
// DOWNLOAD, COMPUTE, UPLOAD, VERIFY, resuming from whatever step the
// participant record currently holds. The server owns every step
// transition; the pipeline re-reads the participant after each advance so a
// crash at any point leaves the next legitimate step defined server-side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zkceremony/contributor/x/artifact"
	"github.com/zkceremony/contributor/x/ceremony"
	"github.com/zkceremony/contributor/x/coordination"
	"github.com/zkceremony/contributor/x/status"
)

// DefaultSettleDelay is how long the pipeline waits after advancing a step
// before re-reading the participant document. Tolerable overhead, not a
// correctness gate.
const DefaultSettleDelay = 2 * time.Second

// ErrScratchMissing indicates an UPLOADING resume found neither an
// in-memory output buffer nor the scratch file from the COMPUTE step.
var ErrScratchMissing = errors.New("pipeline: computed zkey not found for upload resume")

// Storage is the artifact transfer surface the pipeline drives.
// *artifact.Client satisfies it.
type Storage interface {
	Download(ctx context.Context, bucket, key string, sink status.Sink) ([]byte, error)
	MultipartUpload(ctx context.Context, bucket, key string, data []byte, resume *ceremony.TempContributionData, journal artifact.Journal, sink status.Sink) error
}

var _ Storage = (*artifact.Client)(nil)

// Config wires the pipeline's collaborators.
type Config struct {
	Store     coordination.Store
	Callables coordination.Callables
	Storage   Storage
	Transform Transform
	Sink      status.Sink
	Logger    zerolog.Logger
	Terms     coordination.Terms
	Metrics   *Metrics

	// VerifyURL is forwarded to the verify callable.
	VerifyURL string
	// BucketPostfix is appended to the ceremony prefix to form the bucket.
	BucketPostfix string
	// WorkDir holds the computed zkey between COMPUTE and a possibly
	// relaunched UPLOAD. Defaults to the OS temp directory.
	WorkDir string

	SettleDelay time.Duration
	Now         func() time.Time
	Sleep       func(ctx context.Context, d time.Duration) error
}

// Pipeline runs one circuit's contribution steps.
type Pipeline struct {
	store     coordination.Store
	callables coordination.Callables
	storage   Storage
	transform Transform
	sink      status.Sink
	log       zerolog.Logger
	terms     coordination.Terms
	metrics   *Metrics

	verifyURL     string
	bucketPostfix string
	workDir       string
	settleDelay   time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// New constructs a Pipeline, filling defaults for optional fields.
func New(cfg Config) *Pipeline {
	if cfg.Transform == nil {
		cfg.Transform = XOFTransform{}
	}
	if cfg.Sink == nil {
		cfg.Sink = status.Discard
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}

	return &Pipeline{
		store:         cfg.Store,
		callables:     cfg.Callables,
		storage:       cfg.Storage,
		transform:     cfg.Transform,
		sink:          cfg.Sink,
		log:           cfg.Logger.With().Str("component", "pipeline").Logger(),
		terms:         cfg.Terms,
		metrics:       cfg.Metrics,
		verifyURL:     cfg.VerifyURL,
		bucketPostfix: cfg.BucketPostfix,
		workDir:       cfg.WorkDir,
		settleDelay:   cfg.SettleDelay,
		now:           cfg.Now,
		sleep:         cfg.Sleep,
	}
}

// RunOrResume drives the contribution for one circuit, beginning at the
// step the participant snapshot holds. It returns once the participant has
// reached VERIFYING (the verifier advances from there) or a terminal step,
// or on the first unrecoverable step failure, which it also reports to the
// sink.
func (p *Pipeline) RunOrResume(
	ctx context.Context,
	cer ceremony.Ceremony,
	circ ceremony.Circuit,
	participant ceremony.Participant,
	contributorID string,
) error {
	bucket := ceremony.BucketName(cer.Prefix, p.bucketPostfix)
	current := participant

	// Buffers live for this invocation only; a new circuit gets new buffers.
	var prevZkey, nextZkey []byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if current.ContributionStep.Resumable() || current.ContributionStep == ceremony.StepVerifying {
			p.metrics.StepsTotal.WithLabelValues(string(current.ContributionStep)).Inc()
		}

		switch current.ContributionStep {
		case ceremony.StepDownloading:
			b, err := p.download(ctx, bucket, circ)
			if err != nil {
				return err
			}
			prevZkey = b

		case ceremony.StepComputing:
			if prevZkey == nil {
				// Resumed directly into COMPUTING; the previous zkey buffer
				// did not survive the relaunch.
				b, err := p.download(ctx, bucket, circ)
				if err != nil {
					return err
				}
				prevZkey = b
			}
			b, err := p.compute(ctx, cer, circ, prevZkey)
			if err != nil {
				return err
			}
			nextZkey = b

		case ceremony.StepUploading:
			if nextZkey == nil {
				b, err := p.readScratch(circ)
				if err != nil {
					p.emitError(err)
					return err
				}
				nextZkey = b
			}
			if err := p.upload(ctx, cer, circ, bucket, nextZkey, current.TempContributionData); err != nil {
				return err
			}

		case ceremony.StepVerifying:
			return p.verify(ctx, cer, circ, bucket, contributorID)

		default:
			// COMPLETED or no step: nothing left for this circuit.
			return nil
		}

		refreshed, err := p.advanceAndRefresh(ctx, cer.ID, current.ID)
		if err != nil {
			return err
		}
		current = refreshed
	}
}

func (p *Pipeline) download(ctx context.Context, bucket string, circ ceremony.Circuit) ([]byte, error) {
	p.sink.Emit(status.Update{
		Message: fmt.Sprintf("Downloading %s", circ.LastZkeyName()),
		Busy:    true,
	})

	b, err := p.storage.Download(ctx, bucket, circ.LastZkeyKey(), p.sink)
	if err != nil {
		p.emitError(err)
		return nil, fmt.Errorf("pipeline: download step: %w", err)
	}
	p.metrics.BytesDownloaded.Add(float64(len(b)))
	p.metrics.ZkeyBytes.Observe(float64(len(b)))
	return b, nil
}

func (p *Pipeline) compute(ctx context.Context, cer ceremony.Ceremony, circ ceremony.Circuit, prevZkey []byte) ([]byte, error) {
	p.sink.Emit(status.Update{
		Message: fmt.Sprintf("Computing contribution for circuit # %d (%s)", circ.SequencePosition, circ.Prefix),
		Busy:    true,
	})

	entropy, err := NewEntropy()
	if err != nil {
		p.emitError(err)
		return nil, err
	}

	start := p.now()
	next, err := p.transform.Contribute(ctx, prevZkey, entropy)
	if err != nil {
		p.emitError(err)
		return nil, fmt.Errorf("pipeline: compute step: %w", err)
	}
	elapsed := p.now().Sub(start).Milliseconds()
	p.metrics.ComputeSeconds.Observe(float64(elapsed) / 1000)

	if err := p.writeScratch(circ, next); err != nil {
		p.log.Warn().Err(err).Msg("scratch write failed; upload resume after a crash will recompute")
	}

	hash := FormatHash(next, ContributionHashPrefix)
	p.sink.Emit(status.Update{Message: hash, Busy: true})

	if err := p.callables.PermanentlyStoreCurrentContributionTimeAndHash(ctx, cer.ID, elapsed, hash); err != nil {
		p.metrics.CallableFailures.Inc()
		p.emitError(err)
		return nil, fmt.Errorf("pipeline: store time and hash: %w", err)
	}

	p.log.Info().
		Str("circuit", circ.Prefix).
		Int64("elapsed_ms", elapsed).
		Msg("contribution computed")
	return next, nil
}

func (p *Pipeline) upload(
	ctx context.Context,
	cer ceremony.Ceremony,
	circ ceremony.Circuit,
	bucket string,
	nextZkey []byte,
	resume *ceremony.TempContributionData,
) error {
	p.sink.Emit(status.Update{
		Message: fmt.Sprintf("Uploading %s", circ.NextZkeyName()),
		Busy:    true,
	})

	journal := &callableJournal{callables: p.callables, ceremonyID: cer.ID, metrics: p.metrics}
	if err := p.storage.MultipartUpload(ctx, bucket, circ.NextZkeyKey(), nextZkey, resume, journal, p.sink); err != nil {
		p.emitError(err)
		return fmt.Errorf("pipeline: upload step: %w", err)
	}
	p.metrics.BytesUploaded.Add(float64(len(nextZkey)))
	p.metrics.UploadParts.Observe(float64(journal.chunkCount()))

	p.removeScratch(circ)
	return nil
}

func (p *Pipeline) verify(ctx context.Context, cer ceremony.Ceremony, circ ceremony.Circuit, bucket, contributorID string) error {
	p.sink.Emit(status.Update{
		Message: fmt.Sprintf("Contribution # %s under verification", ceremony.FormatZkeyIndex(circ.WaitingQueue.CompletedContributions+1)),
		Busy:    true,
	})

	if err := p.callables.VerifyContribution(ctx, cer.ID, circ.ID, bucket, contributorID, p.verifyURL); err != nil {
		p.metrics.CallableFailures.Inc()
		p.emitError(err)
		return fmt.Errorf("pipeline: verify step: %w", err)
	}
	// The verifier advances the step server-side; the dispatcher is
	// re-entered by the next participant snapshot.
	return nil
}

// advanceAndRefresh progresses the server-side step, waits for the document
// to settle and re-reads the participant. The refreshed snapshot may be any
// number of steps ahead.
func (p *Pipeline) advanceAndRefresh(ctx context.Context, ceremonyID, participantID string) (ceremony.Participant, error) {
	if err := p.callables.ProgressToNextContributionStep(ctx, ceremonyID); err != nil {
		p.metrics.CallableFailures.Inc()
		p.emitError(err)
		return ceremony.Participant{}, fmt.Errorf("pipeline: advance step: %w", err)
	}

	if err := p.sleep(ctx, p.settleDelay); err != nil {
		return ceremony.Participant{}, err
	}

	snap, err := p.store.GetDocument(ctx, p.terms.ParticipantRef(ceremonyID, participantID))
	if err != nil {
		p.emitError(err)
		return ceremony.Participant{}, fmt.Errorf("pipeline: refresh participant: %w", err)
	}

	var refreshed ceremony.Participant
	if err := snap.Decode(&refreshed); err != nil {
		p.emitError(err)
		return ceremony.Participant{}, fmt.Errorf("pipeline: decode participant: %w", err)
	}
	if refreshed.ID == "" {
		refreshed.ID = participantID
	}
	return refreshed, nil
}

func (p *Pipeline) scratchPath(circ ceremony.Circuit) string {
	return filepath.Join(p.workDir, circ.NextZkeyName())
}

func (p *Pipeline) writeScratch(circ ceremony.Circuit, data []byte) error {
	return os.WriteFile(p.scratchPath(circ), data, 0o600)
}

func (p *Pipeline) readScratch(circ ceremony.Circuit) ([]byte, error) {
	b, err := os.ReadFile(p.scratchPath(circ))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrScratchMissing
		}
		return nil, fmt.Errorf("pipeline: read scratch: %w", err)
	}
	return b, nil
}

func (p *Pipeline) removeScratch(circ ceremony.Circuit) {
	if err := os.Remove(p.scratchPath(circ)); err != nil && !os.IsNotExist(err) {
		p.log.Warn().Err(err).Msg("scratch cleanup failed")
	}
}

func (p *Pipeline) emitError(err error) {
	p.sink.Emit(status.Update{Message: fmt.Sprintf("Error %v", err)})
}

// callableJournal persists multipart state through server callables so
// tempContributionData survives the client.
type callableJournal struct {
	callables  coordination.Callables
	ceremonyID string
	metrics    *Metrics

	mu     sync.Mutex
	chunks int
}

func (j *callableJournal) SaveUploadID(ctx context.Context, uploadID string) error {
	if err := j.callables.TemporaryStoreCurrentContributionMultipartUploadID(ctx, j.ceremonyID, uploadID); err != nil {
		j.metrics.CallableFailures.Inc()
		return err
	}
	return nil
}

func (j *callableJournal) SaveChunk(ctx context.Context, chunk ceremony.ETagPart) error {
	if err := j.callables.TemporaryStoreCurrentContributionUploadedChunk(ctx, j.ceremonyID, chunk); err != nil {
		j.metrics.CallableFailures.Inc()
		return err
	}
	j.mu.Lock()
	j.chunks++
	j.mu.Unlock()
	return nil
}

func (j *callableJournal) chunkCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.chunks
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
