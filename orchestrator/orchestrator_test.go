package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fossil-labs/proof-hub/cache"
	"github.com/fossil-labs/proof-hub/config"
	"github.com/fossil-labs/proof-hub/db"
	"github.com/fossil-labs/proof-hub/prover"
	"github.com/fossil-labs/proof-hub/types"
)

var (
	testAccount = common.HexToAddress("0xAAaAaAaaAaAaAaaAaAAAAAAAAaaaAaAaAaaAaaAa")
	testSlot    = common.HexToHash("0x0")
	testValue   = common.BigToHash(big.NewInt(42)).Hex()
	testRoot    = common.HexToHash("0x11").Hex()
	testHash    = common.HexToHash("0x22").Hex()
)

// memDao is an in-memory ProofDao with the same conditional-update semantics
// as the gorm implementation.
type memDao struct {
	mu       sync.Mutex
	jobs     map[string]*db.Job
	relayed  map[uint64]string
	accounts map[string]string
	storage  map[string]string
}

func newMemDao() *memDao {
	return &memDao{
		jobs:     make(map[string]*db.Job),
		relayed:  make(map[uint64]string),
		accounts: make(map[string]string),
		storage:  make(map[string]string),
	}
}

func (d *memDao) CreateJob(jobID string) (*db.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if job, ok := d.jobs[jobID]; ok {
		cp := *job
		return &cp, nil
	}
	job := &db.Job{JobId: jobID, Status: db.JobStatusPending, CreatedAt: time.Now().Unix()}
	d.jobs[jobID] = job
	cp := *job
	return &cp, nil
}

func (d *memDao) GetJob(jobID string) (*db.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *job
	return &cp, nil
}

func (d *memDao) UpdateJobStatus(jobID string, from, to db.JobStatus, reason, result string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	job, ok := d.jobs[jobID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if job.Status != from {
		if job.Status == to {
			return nil
		}
		return db.ErrJobStatusConflict
	}
	job.Status = to
	job.Reason = reason
	job.Result = result
	job.UpdatedAt = time.Now().Unix()
	return nil
}

func (d *memDao) GetRelayedBlock(blockNumber uint64) (*db.RelayedBlock, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root, ok := d.relayed[blockNumber]
	if !ok {
		return nil, nil
	}
	return &db.RelayedBlock{BlockNumber: blockNumber, StateRoot: root}, nil
}

func (d *memDao) MarkBlockRelayed(blockNumber uint64, stateRoot string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.relayed[blockNumber]; !ok {
		d.relayed[blockNumber] = stateRoot
	}
	return nil
}

func (d *memDao) GetProvenAccount(blockNumber uint64, account string) (*db.ProvenAccount, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hash, ok := d.accounts[fmt.Sprintf("%d_%s", blockNumber, account)]
	if !ok {
		return nil, nil
	}
	return &db.ProvenAccount{BlockNumber: blockNumber, Account: account, StorageHash: hash}, nil
}

func (d *memDao) MarkAccountProven(blockNumber uint64, account, storageHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fmt.Sprintf("%d_%s", blockNumber, account)
	if _, ok := d.accounts[key]; !ok {
		d.accounts[key] = storageHash
	}
	return nil
}

func (d *memDao) GetProvenStorage(blockNumber uint64, account, slot string) (*db.ProvenStorage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	value, ok := d.storage[fmt.Sprintf("%d_%s_%s", blockNumber, account, slot)]
	if !ok {
		return nil, nil
	}
	return &db.ProvenStorage{BlockNumber: blockNumber, Account: account, Slot: slot, Value: value}, nil
}

func (d *memDao) MarkStorageProven(blockNumber uint64, account, slot, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := fmt.Sprintf("%d_%s_%s", blockNumber, account, slot)
	if _, ok := d.storage[key]; !ok {
		d.storage[key] = value
	}
	return nil
}

type mockRelayer struct {
	mu            sync.Mutex
	calls         int
	transientLeft int
	err           error
}

func (m *mockRelayer) Relay(_ context.Context, blockNumber uint64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if m.transientLeft > 0 {
		m.transientLeft--
		return "", types.Transient(errors.New("rpc unreachable"))
	}
	return testRoot, nil
}

type mockProducer struct {
	mu           sync.Mutex
	accountCalls int
	storageCalls int
	accountErr   error
}

func (m *mockProducer) AccountProof(_ context.Context, blockNumber uint64, account common.Address) (*types.AccountProof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountCalls++
	if m.accountErr != nil {
		return nil, m.accountErr
	}
	return &types.AccountProof{
		BlockNumber: blockNumber,
		Address:     account,
		StorageHash: testHash,
		Words:       []uint64{1, 2},
		SizedBytes:  []int{16},
	}, nil
}

func (m *mockProducer) StorageProof(_ context.Context, blockNumber uint64, account common.Address, slot common.Hash) (*types.StorageProof, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageCalls++
	return &types.StorageProof{
		BlockNumber: blockNumber,
		Address:     account,
		Slot:        slot,
		Value:       testValue,
		Words:       []uint64{3, 4},
		SizedBytes:  []int{16},
	}, nil
}

// mockRegistry keeps proven facts in memory and records every submission so
// tests can assert ordering and duplicate suppression.
type mockRegistry struct {
	mu             sync.Mutex
	accounts       map[string]string
	storage        map[string]string
	submissions    []string
	orderViolation bool
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		accounts: make(map[string]string),
		storage:  make(map[string]string),
	}
}

func (m *mockRegistry) accountKey(blockNumber uint64, account common.Address) string {
	return fmt.Sprintf("%d_%s", blockNumber, account.Hex())
}

func (m *mockRegistry) storageKey(blockNumber uint64, account common.Address, slot common.Hash) string {
	return fmt.Sprintf("%d_%s_%s", blockNumber, account.Hex(), slot.Hex())
}

func (m *mockRegistry) QueryAccount(_ context.Context, blockNumber uint64, account common.Address) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash, ok := m.accounts[m.accountKey(blockNumber, account)]
	return hash, ok, nil
}

func (m *mockRegistry) QueryStorage(_ context.Context, blockNumber uint64, account common.Address, slot common.Hash) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.storage[m.storageKey(blockNumber, account, slot)]
	return value, ok, nil
}

func (m *mockRegistry) SubmitAccountProof(_ context.Context, proof *types.AccountProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := m.accountKey(proof.BlockNumber, proof.Address)
	if _, ok := m.accounts[key]; ok {
		return types.AlreadySatisfied(errors.New("fact already registered"))
	}
	m.accounts[key] = proof.StorageHash
	m.submissions = append(m.submissions, "account:"+key)
	return nil
}

func (m *mockRegistry) SubmitStorageProof(_ context.Context, proof *types.StorageProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[m.accountKey(proof.BlockNumber, proof.Address)]; !ok {
		m.orderViolation = true
		return types.InvariantViolation(errors.New("account not proven"))
	}
	key := m.storageKey(proof.BlockNumber, proof.Address, proof.Slot)
	if _, ok := m.storage[key]; ok {
		return types.AlreadySatisfied(errors.New("fact already registered"))
	}
	m.storage[key] = proof.Value
	m.submissions = append(m.submissions, "storage:"+key)
	return nil
}

func testConfig() *config.OrchestratorConfig {
	return &config.OrchestratorConfig{
		Concurrency:       8,
		RetryAttempts:     3,
		BackoffInitialMs:  1,
		BackoffMaxMs:      4,
		RPCTimeoutSec:     5,
		ConfirmTimeoutSec: 5,
	}
}

func newTestOrchestrator(t *testing.T, dao db.ProofDao, rel *mockRelayer, prod prover.Producer, reg *mockRegistry) *Orchestrator {
	t.Helper()
	valueCache, err := cache.NewLocalCache(64)
	require.NoError(t, err)
	return NewOrchestrator(dao, rel, prod, reg, valueCache, testConfig())
}

func storageRequest(jobID string) *types.Request {
	return &types.Request{
		JobID:          jobID,
		AccountAddress: testAccount,
		StorageKeys:    []common.Hash{testSlot},
		BlockNumber:    100,
	}
}

func TestFullPipeline(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	result, err := orch.Resolve(context.Background(), storageRequest("job-1"))
	require.NoError(t, err)
	require.Equal(t, testAccount.Hex(), result.Account)
	require.Len(t, result.Slots, 1)
	require.Equal(t, testValue, result.Slots[0].Value)

	// relay once, then account proof strictly before storage proof
	require.Equal(t, 1, rel.calls)
	require.False(t, reg.orderViolation)
	require.Len(t, reg.submissions, 2)
	require.Contains(t, reg.submissions[0], "account:")
	require.Contains(t, reg.submissions[1], "storage:")

	job, err := orch.Poll("job-1")
	require.NoError(t, err)
	require.Equal(t, db.JobStatusCompleted, job.Status)
}

func TestShortCircuit(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{}
	reg := newMockRegistry()
	reg.storage[reg.storageKey(100, testAccount, testSlot)] = testValue
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	result, err := orch.Resolve(context.Background(), storageRequest("job-sc"))
	require.NoError(t, err)
	require.Equal(t, testValue, result.Slots[0].Value)

	require.Zero(t, rel.calls)
	require.Zero(t, prod.accountCalls)
	require.Zero(t, prod.storageCalls)
	require.Empty(t, reg.submissions)
}

func TestIdempotentConcurrentSubmissions(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	var wg sync.WaitGroup
	results := make([]*types.ProvenResult, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Resolve(context.Background(), storageRequest(fmt.Sprintf("twin-%d", i)))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0], results[1])
	// one account submission and one storage submission in total
	require.Len(t, reg.submissions, 2)

	for i := 0; i < 2; i++ {
		job, err := orch.Poll(fmt.Sprintf("twin-%d", i))
		require.NoError(t, err)
		require.Equal(t, db.JobStatusCompleted, job.Status)
	}
}

func TestSecondRequestAfterCompletionMakesNoChainCalls(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	first, err := orch.Resolve(context.Background(), storageRequest("job-a"))
	require.NoError(t, err)
	relayCalls, accountCalls, storageCalls := rel.calls, prod.accountCalls, prod.storageCalls

	second, err := orch.Resolve(context.Background(), storageRequest("job-b"))
	require.NoError(t, err)
	require.Equal(t, first.Slots, second.Slots)

	require.Equal(t, relayCalls, rel.calls)
	require.Equal(t, accountCalls, prod.accountCalls)
	require.Equal(t, storageCalls, prod.storageCalls)
	require.Len(t, reg.submissions, 2)
}

func TestRetryWithinBudgetSucceeds(t *testing.T) {
	rel := &mockRelayer{transientLeft: 2}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	_, err := orch.Resolve(context.Background(), storageRequest("job-retry"))
	require.NoError(t, err)
	require.Equal(t, 3, rel.calls)
}

func TestRetryBudgetExhaustedFailsWithTimeout(t *testing.T) {
	rel := &mockRelayer{transientLeft: 10}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	_, err := orch.Resolve(context.Background(), storageRequest("job-exhaust"))
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, types.ReasonTimeout, failed.Reason)

	job, err := orch.Poll("job-exhaust")
	require.NoError(t, err)
	require.Equal(t, db.JobStatusFailed, job.Status)
}

func TestRejectedIsNotRetried(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{accountErr: types.Rejected(errors.New("malformed proof"))}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	_, err := orch.Resolve(context.Background(), storageRequest("job-rejected"))
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, types.ReasonAccountProofFailed, failed.Reason)
	require.Equal(t, 1, prod.accountCalls)
}

func TestNotFoundIsTerminal(t *testing.T) {
	rel := &mockRelayer{err: types.NotFound(errors.New("unknown block"))}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	_, err := orch.Resolve(context.Background(), storageRequest("job-nf"))
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, types.ReasonNotFound, failed.Reason)
	require.Equal(t, 1, rel.calls)
}

func TestAccountOnlyRequest(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	result, err := orch.Resolve(context.Background(), &types.Request{
		JobID:          "job-acct",
		AccountAddress: testAccount,
		BlockNumber:    100,
	})
	require.NoError(t, err)
	require.Equal(t, testHash, result.StorageHash)
	require.Empty(t, result.Slots)
	require.Equal(t, 1, prod.accountCalls)
	require.Zero(t, prod.storageCalls)
}

func TestResolveCancellationKeepsJobRunning(t *testing.T) {
	rel := &mockRelayer{transientLeft: 2}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := orch.Resolve(ctx, storageRequest("job-cancel"))
	require.ErrorIs(t, err, context.Canceled)

	// the job keeps running in the background and still completes
	require.Eventually(t, func() bool {
		job, err := orch.Poll("job-cancel")
		return err == nil && job.Status == db.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubmitSameJobIDIsNoOp(t *testing.T) {
	rel := &mockRelayer{}
	prod := &mockProducer{}
	reg := newMockRegistry()
	orch := newTestOrchestrator(t, newMemDao(), rel, prod, reg)

	_, err := orch.Resolve(context.Background(), storageRequest("job-dup"))
	require.NoError(t, err)

	jobID, err := orch.Submit(context.Background(), storageRequest("job-dup"))
	require.NoError(t, err)
	require.Equal(t, "job-dup", jobID)

	job, err := orch.Poll("job-dup")
	require.NoError(t, err)
	require.Equal(t, db.JobStatusCompleted, job.Status)
	require.Len(t, reg.submissions, 2)
}

func TestPartialSlotResultsOnFailure(t *testing.T) {
	rel := &mockRelayer{}
	reg := newMockRegistry()

	// the second slot is already proven, the first one is refused at the
	// producer so the job fails while still reporting both slots
	otherSlot := common.HexToHash("0x5")
	reg.storage[reg.storageKey(100, testAccount, otherSlot)] = testValue

	prodFail := &flakyProducer{mockProducer: &mockProducer{}}
	orch := newTestOrchestrator(t, newMemDao(), rel, prodFail, reg)
	_, err := orch.Resolve(context.Background(), &types.Request{
		JobID:          "job-partial",
		AccountAddress: testAccount,
		StorageKeys:    []common.Hash{testSlot, otherSlot},
		BlockNumber:    100,
	})
	var failed *JobFailedError
	require.ErrorAs(t, err, &failed)
	require.Equal(t, types.ReasonStorageProofFailed, failed.Reason)

	job, pollErr := orch.Poll("job-partial")
	require.NoError(t, pollErr)
	require.Equal(t, db.JobStatusFailed, job.Status)
	require.Contains(t, job.Result, otherSlot.Hex())
	require.Contains(t, job.Result, testValue)
}

// flakyProducer rejects storage proofs while delegating account proofs.
type flakyProducer struct {
	*mockProducer
}

func (f *flakyProducer) StorageProof(_ context.Context, _ uint64, _ common.Address, _ common.Hash) (*types.StorageProof, error) {
	return nil, types.Rejected(errors.New("node refused proof"))
}
