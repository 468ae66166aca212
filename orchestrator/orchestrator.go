package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/fossil-labs/proof-hub/cache"
	"github.com/fossil-labs/proof-hub/config"
	"github.com/fossil-labs/proof-hub/db"
	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/metrics"
	"github.com/fossil-labs/proof-hub/prover"
	"github.com/fossil-labs/proof-hub/registry"
	"github.com/fossil-labs/proof-hub/relayer"
	"github.com/fossil-labs/proof-hub/types"
)

var (
	// ErrJobPending is returned by Resolve when the job is still running
	// after the caller stopped waiting.
	ErrJobPending = errors.New("job is still pending")
)

// JobFailedError carries the persisted failure reason of a terminal job.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// Orchestrator drives one request through the proof pipeline: registry
// short-circuit, block relay, account proof, storage proofs, terminal ledger
// write. Each job runs as an independent task under a bounded semaphore; jobs
// on the same (block, account, slots) key are serialized in-process so a
// popular key produces at most one chain submission.
type Orchestrator struct {
	dao        db.ProofDao
	relay      relayer.Relayer
	producer   prover.Producer
	registry   registry.Registry
	cfg        *config.OrchestratorConfig
	valueCache cache.Cache

	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]chan struct{}
	keyLocks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestrator(
	dao db.ProofDao,
	relay relayer.Relayer,
	producer prover.Producer,
	reg registry.Registry,
	valueCache cache.Cache,
	cfg *config.OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		dao:        dao,
		relay:      relay,
		producer:   producer,
		registry:   reg,
		cfg:        cfg,
		valueCache: valueCache,
		sem:        semaphore.NewWeighted(cfg.GetConcurrency()),
		inflight:   make(map[string]chan struct{}),
		keyLocks:   make(map[string]*keyLock),
	}
}

// Submit accepts a request, persists a Pending job and starts resolution in
// the background. Re-submitting a known job id is a no-op returning the same
// id; a Pending row without a running task (crash leftover) is resumed.
func (o *Orchestrator) Submit(ctx context.Context, req *types.Request) (string, error) {
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	job, err := o.dao.CreateJob(jobID)
	if err != nil {
		return "", err
	}
	if job.Status.IsTerminal() {
		return jobID, nil
	}

	o.mu.Lock()
	if _, running := o.inflight[jobID]; running {
		o.mu.Unlock()
		return jobID, nil
	}
	done := make(chan struct{})
	o.inflight[jobID] = done
	o.mu.Unlock()

	go o.run(jobID, done, req.Clone())
	return jobID, nil
}

// Poll returns the ledger row of a job.
func (o *Orchestrator) Poll(jobID string) (*db.Job, error) {
	return o.dao.GetJob(jobID)
}

// Resolve submits a request and blocks until the job is terminal or ctx is
// cancelled. Cancellation abandons only the wait, the job itself runs to
// completion in the background.
func (o *Orchestrator) Resolve(ctx context.Context, req *types.Request) (*types.ProvenResult, error) {
	jobID, err := o.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	done, running := o.inflight[jobID]
	o.mu.Unlock()
	if running {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
	}

	job, err := o.dao.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case db.JobStatusCompleted:
		result := types.ProvenResult{}
		if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
			return nil, err
		}
		return &result, nil
	case db.JobStatusFailed:
		return nil, &JobFailedError{JobID: jobID, Reason: job.Reason}
	default:
		return nil, ErrJobPending
	}
}

func (o *Orchestrator) run(jobID string, done chan struct{}, req *types.Request) {
	// the job owns its own lifetime, caller cancellation never reaches here
	ctx := context.Background()
	if err := o.sem.Acquire(ctx, 1); err != nil {
		close(done)
		return
	}
	defer o.sem.Release(1)
	defer func() {
		o.mu.Lock()
		delete(o.inflight, jobID)
		o.mu.Unlock()
		close(done)
	}()
	o.process(ctx, jobID, req)
}

// process is the per-job state machine. Step order is a protocol invariant:
// relay before any proof, account proof before any storage proof.
func (o *Orchestrator) process(ctx context.Context, jobID string, req *types.Request) {
	key := requestKey(req)
	kl := o.lockKey(key)
	defer o.unlockKey(key, kl)

	// a twin job on the same key may have finished while we held the line
	if job, err := o.dao.GetJob(jobID); err == nil && job.Status.IsTerminal() {
		return
	}

	// Dispatch: cheapest path first, nothing gets written if the registry
	// already holds every requested fact
	if result, ok := o.shortCircuit(ctx, req); ok {
		o.finalize(jobID, result)
		return
	}

	// EnsureBlockRelayed
	rb, err := o.dao.GetRelayedBlock(req.BlockNumber)
	if err != nil {
		o.fail(jobID, types.ReasonRelayFailed, nil)
		return
	}
	if rb == nil {
		var stateRoot string
		err = o.withRetries(ctx, "relay block", o.cfg.GetConfirmTimeout(), func(ctx context.Context) error {
			root, err := o.relay.Relay(ctx, req.BlockNumber)
			if err != nil {
				return err
			}
			stateRoot = root
			return nil
		})
		if err != nil {
			o.fail(jobID, failureReason(types.ReasonRelayFailed, err), nil)
			return
		}
		if err = o.dao.MarkBlockRelayed(req.BlockNumber, stateRoot); err != nil {
			logging.Logger.Errorf("failed to record relayed block %d, err=%s", req.BlockNumber, err.Error())
		}
		metrics.RelayedBlockGauge.Set(float64(req.BlockNumber))
	}

	// EnsureAccountProven
	storageHash, err := o.ensureAccountProven(ctx, req.BlockNumber, req.AccountAddress)
	if err != nil {
		o.fail(jobID, failureReason(types.ReasonAccountProofFailed, err), nil)
		return
	}

	result := &types.ProvenResult{
		BlockNumber: req.BlockNumber,
		Account:     req.AccountAddress.Hex(),
		StorageHash: storageHash,
	}
	if len(req.StorageKeys) == 0 {
		o.finalize(jobID, result)
		return
	}

	// ProveStorage: per-slot outcomes, one bad slot fails the job but the
	// result still reports every slot individually
	var firstErr error
	for _, slot := range req.StorageKeys {
		value, err := o.proveSlot(ctx, req.BlockNumber, req.AccountAddress, slot)
		if err != nil {
			result.Slots = append(result.Slots, types.SlotResult{Slot: slot.Hex(), Error: err.Error()})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Slots = append(result.Slots, types.SlotResult{Slot: slot.Hex(), Value: value})
	}
	if firstErr != nil {
		o.fail(jobID, failureReason(types.ReasonStorageProofFailed, firstErr), result)
		return
	}
	o.finalize(jobID, result)
}

// shortCircuit answers the request from already-anchored facts. Local records
// are consulted first, then the registry itself; a negative local answer is
// never authoritative.
func (o *Orchestrator) shortCircuit(ctx context.Context, req *types.Request) (*types.ProvenResult, bool) {
	result := &types.ProvenResult{
		BlockNumber: req.BlockNumber,
		Account:     req.AccountAddress.Hex(),
	}
	if len(req.StorageKeys) == 0 {
		if pa, err := o.dao.GetProvenAccount(req.BlockNumber, req.AccountAddress.Hex()); err == nil && pa != nil {
			result.StorageHash = pa.StorageHash
			return result, true
		}
		hash, ok, err := o.queryAccountOnce(ctx, req.BlockNumber, req.AccountAddress)
		if err != nil || !ok {
			return nil, false
		}
		if err = o.dao.MarkAccountProven(req.BlockNumber, req.AccountAddress.Hex(), hash); err != nil {
			logging.Logger.Errorf("failed to record proven account, err=%s", err.Error())
		}
		result.StorageHash = hash
		return result, true
	}

	for _, slot := range req.StorageKeys {
		value, ok := o.lookupProvenSlot(ctx, req.BlockNumber, req.AccountAddress, slot)
		if !ok {
			return nil, false
		}
		result.Slots = append(result.Slots, types.SlotResult{Slot: slot.Hex(), Value: value})
	}
	if pa, err := o.dao.GetProvenAccount(req.BlockNumber, req.AccountAddress.Hex()); err == nil && pa != nil {
		result.StorageHash = pa.StorageHash
	}
	return result, true
}

func (o *Orchestrator) lookupProvenSlot(ctx context.Context, blockNumber uint64, account common.Address, slot common.Hash) (string, bool) {
	cacheKey := types.GetStorageKey(blockNumber, account, slot)
	if cached, found := o.valueCache.Get(cacheKey); found {
		return cached.(string), true
	}
	if ps, err := o.dao.GetProvenStorage(blockNumber, account.Hex(), slot.Hex()); err == nil && ps != nil {
		o.valueCache.Set(cacheKey, ps.Value)
		return ps.Value, true
	}
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GetRPCTimeout())
	defer cancel()
	value, ok, err := o.registry.QueryStorage(callCtx, blockNumber, account, slot)
	if err != nil || !ok {
		return "", false
	}
	o.markStorageProven(blockNumber, account, slot, value)
	return value, true
}

func (o *Orchestrator) ensureAccountProven(ctx context.Context, blockNumber uint64, account common.Address) (string, error) {
	if pa, err := o.dao.GetProvenAccount(blockNumber, account.Hex()); err == nil && pa != nil {
		return pa.StorageHash, nil
	}

	// re-query right before producing: another run may already have anchored
	// the fact, and a duplicate submission would only waste gas
	var storageHash string
	err := o.withRetries(ctx, "query account fact", o.cfg.GetRPCTimeout(), func(ctx context.Context) error {
		hash, ok, err := o.registry.QueryAccount(ctx, blockNumber, account)
		if err != nil {
			return err
		}
		if ok {
			storageHash = hash
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if storageHash == "" {
		var proof *types.AccountProof
		err = o.withRetries(ctx, "produce account proof", o.cfg.GetRPCTimeout(), func(ctx context.Context) error {
			p, err := o.producer.AccountProof(ctx, blockNumber, account)
			if err != nil {
				return err
			}
			proof = p
			return nil
		})
		if err != nil {
			return "", err
		}
		err = o.withRetries(ctx, "submit account proof", o.cfg.GetConfirmTimeout(), func(ctx context.Context) error {
			return o.registry.SubmitAccountProof(ctx, proof)
		})
		if err != nil && types.ClassOf(err) != types.ClassAlreadySatisfied {
			return "", err
		}
		metrics.ProofSubmissionCounter.WithLabelValues("account").Inc()
		storageHash = proof.StorageHash
	}

	if err = o.dao.MarkAccountProven(blockNumber, account.Hex(), storageHash); err != nil {
		logging.Logger.Errorf("failed to record proven account, err=%s", err.Error())
	}
	return storageHash, nil
}

func (o *Orchestrator) proveSlot(ctx context.Context, blockNumber uint64, account common.Address, slot common.Hash) (string, error) {
	if value, ok := o.lookupProvenSlot(ctx, blockNumber, account, slot); ok {
		return value, nil
	}

	var proof *types.StorageProof
	err := o.withRetries(ctx, "produce storage proof", o.cfg.GetRPCTimeout(), func(ctx context.Context) error {
		p, err := o.producer.StorageProof(ctx, blockNumber, account, slot)
		if err != nil {
			return err
		}
		proof = p
		return nil
	})
	if err != nil {
		return "", err
	}
	err = o.withRetries(ctx, "submit storage proof", o.cfg.GetConfirmTimeout(), func(ctx context.Context) error {
		return o.registry.SubmitStorageProof(ctx, proof)
	})
	if err != nil && types.ClassOf(err) != types.ClassAlreadySatisfied {
		return "", err
	}
	metrics.ProofSubmissionCounter.WithLabelValues("storage").Inc()
	o.markStorageProven(blockNumber, account, slot, proof.Value)
	return proof.Value, nil
}

func (o *Orchestrator) queryAccountOnce(ctx context.Context, blockNumber uint64, account common.Address) (string, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GetRPCTimeout())
	defer cancel()
	return o.registry.QueryAccount(callCtx, blockNumber, account)
}

func (o *Orchestrator) markStorageProven(blockNumber uint64, account common.Address, slot common.Hash, value string) {
	if err := o.dao.MarkStorageProven(blockNumber, account.Hex(), slot.Hex(), value); err != nil {
		logging.Logger.Errorf("failed to record proven storage, err=%s", err.Error())
	}
	o.valueCache.Set(types.GetStorageKey(blockNumber, account, slot), value)
}

func (o *Orchestrator) finalize(jobID string, result *types.ProvenResult) {
	bz, err := json.Marshal(result)
	if err != nil {
		logging.Logger.Errorf("failed to marshal result of job %s, err=%s", jobID, err.Error())
		o.fail(jobID, types.ReasonStorageProofFailed, nil)
		return
	}
	err = o.dao.UpdateJobStatus(jobID, db.JobStatusPending, db.JobStatusCompleted, "", string(bz))
	if err != nil {
		if errors.Is(err, db.ErrJobStatusConflict) {
			logging.Logger.Infof("job %s already terminal, keeping first outcome", jobID)
			return
		}
		logging.Logger.Errorf("failed to complete job %s, err=%s", jobID, err.Error())
		return
	}
	metrics.JobsCompletedCounter.Inc()
	logging.Logger.Infof("job %s completed", jobID)
}

func (o *Orchestrator) fail(jobID, reason string, partial *types.ProvenResult) {
	resultJSON := ""
	if partial != nil {
		if bz, err := json.Marshal(partial); err == nil {
			resultJSON = string(bz)
		}
	}
	err := o.dao.UpdateJobStatus(jobID, db.JobStatusPending, db.JobStatusFailed, reason, resultJSON)
	if err != nil {
		if errors.Is(err, db.ErrJobStatusConflict) {
			logging.Logger.Infof("job %s already terminal, keeping first outcome", jobID)
			return
		}
		logging.Logger.Errorf("failed to fail job %s, err=%s", jobID, err.Error())
		return
	}
	metrics.JobsFailedCounter.WithLabelValues(reason).Inc()
	logging.Logger.Errorf("job %s failed, reason=%s", jobID, reason)
}

// failureReason maps an escalated step error to the persisted job reason.
// Exhausted transient budgets are ambiguous, the transaction may still land,
// so they surface as timeout rather than as an outright step failure.
func failureReason(stepReason string, err error) string {
	switch types.ClassOf(err) {
	case types.ClassNotFound:
		return types.ReasonNotFound
	case types.ClassTransient:
		return types.ReasonTimeout
	default:
		return stepReason
	}
}

func requestKey(req *types.Request) string {
	slots := make([]string, 0, len(req.StorageKeys))
	for _, s := range req.StorageKeys {
		slots = append(slots, s.Hex())
	}
	return fmt.Sprintf("b%d_a%s_s%s", req.BlockNumber, req.AccountAddress.Hex(), strings.Join(slots, ","))
}

func (o *Orchestrator) lockKey(key string) *keyLock {
	o.mu.Lock()
	kl, ok := o.keyLocks[key]
	if !ok {
		kl = &keyLock{}
		o.keyLocks[key] = kl
	}
	kl.refs++
	o.mu.Unlock()
	kl.mu.Lock()
	return kl
}

func (o *Orchestrator) unlockKey(key string, kl *keyLock) {
	kl.mu.Unlock()
	o.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(o.keyLocks, key)
	}
	o.mu.Unlock()
}
