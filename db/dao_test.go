package db

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDao(t *testing.T) ProofDao {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	InitTables(database)
	return NewProofSvcDB(database)
}

func TestCreateJobIsIdempotent(t *testing.T) {
	dao := newTestDao(t)

	job, err := dao.CreateJob("job-1")
	require.NoError(t, err)
	require.Equal(t, JobStatusPending, job.Status)

	again, err := dao.CreateJob("job-1")
	require.NoError(t, err)
	require.Equal(t, job.Id, again.Id)
	require.Equal(t, JobStatusPending, again.Status)
}

func TestGetJobNotFound(t *testing.T) {
	dao := newTestDao(t)

	_, err := dao.GetJob("missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateJobStatusTerminalIsSticky(t *testing.T) {
	dao := newTestDao(t)

	_, err := dao.CreateJob("job-1")
	require.NoError(t, err)

	err = dao.UpdateJobStatus("job-1", JobStatusPending, JobStatusCompleted, "", `{"account":"0x1"}`)
	require.NoError(t, err)

	// a later failure attempt must not overwrite the first terminal outcome
	err = dao.UpdateJobStatus("job-1", JobStatusPending, JobStatusFailed, "timeout", "")
	require.ErrorIs(t, err, ErrJobStatusConflict)

	job, err := dao.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, JobStatusCompleted, job.Status)
	require.Equal(t, `{"account":"0x1"}`, job.Result)
}

func TestUpdateJobStatusSameTransitionIsNoOp(t *testing.T) {
	dao := newTestDao(t)

	_, err := dao.CreateJob("job-1")
	require.NoError(t, err)

	err = dao.UpdateJobStatus("job-1", JobStatusPending, JobStatusFailed, "not_found", "")
	require.NoError(t, err)

	err = dao.UpdateJobStatus("job-1", JobStatusPending, JobStatusFailed, "not_found", "")
	require.NoError(t, err)

	job, err := dao.GetJob("job-1")
	require.NoError(t, err)
	require.Equal(t, JobStatusFailed, job.Status)
	require.Equal(t, "not_found", job.Reason)
}

func TestRelayedBlockMarkAndGet(t *testing.T) {
	dao := newTestDao(t)

	block, err := dao.GetRelayedBlock(100)
	require.NoError(t, err)
	require.Nil(t, block)

	require.NoError(t, dao.MarkBlockRelayed(100, "0xroot"))
	// re-marking an existing block is a no-op, not an error
	require.NoError(t, dao.MarkBlockRelayed(100, "0xother"))

	block, err = dao.GetRelayedBlock(100)
	require.NoError(t, err)
	require.NotNil(t, block)
	require.Equal(t, "0xroot", block.StateRoot)
}

func TestProvenAccountMarkAndGet(t *testing.T) {
	dao := newTestDao(t)

	account, err := dao.GetProvenAccount(100, "0xabc")
	require.NoError(t, err)
	require.Nil(t, account)

	require.NoError(t, dao.MarkAccountProven(100, "0xabc", "0xhash"))
	require.NoError(t, dao.MarkAccountProven(100, "0xabc", "0xhash"))

	account, err = dao.GetProvenAccount(100, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, account)
	require.Equal(t, "0xhash", account.StorageHash)

	// a different block is a different fact
	other, err := dao.GetProvenAccount(101, "0xabc")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestProvenStorageMarkAndGet(t *testing.T) {
	dao := newTestDao(t)

	storage, err := dao.GetProvenStorage(100, "0xabc", "0x0")
	require.NoError(t, err)
	require.Nil(t, storage)

	require.NoError(t, dao.MarkStorageProven(100, "0xabc", "0x0", "0x2a"))
	require.NoError(t, dao.MarkStorageProven(100, "0xabc", "0x0", "0x2a"))

	storage, err = dao.GetProvenStorage(100, "0xabc", "0x0")
	require.NoError(t, err)
	require.NotNil(t, storage)
	require.Equal(t, "0x2a", storage.Value)

	other, err := dao.GetProvenStorage(100, "0xabc", "0x1")
	require.NoError(t, err)
	require.Nil(t, other)
}
