package db

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrJobStatusConflict is returned when a conditional status update finds the
// job in a different status than expected. Terminal rows stay as they are.
var ErrJobStatusConflict = errors.New("job status conflict")

type ProofDao interface {
	JobDB
	ChainStateDB
}

type ProofSvcDB struct {
	db *gorm.DB
}

func NewProofSvcDB(db *gorm.DB) ProofDao {
	return &ProofSvcDB{
		db,
	}
}

type JobDB interface {
	CreateJob(jobID string) (*Job, error)
	GetJob(jobID string) (*Job, error)
	UpdateJobStatus(jobID string, from, to JobStatus, reason, result string) error
}

func (d *ProofSvcDB) CreateJob(jobID string) (*Job, error) {
	job := &Job{
		JobId:     jobID,
		Status:    JobStatusPending,
		CreatedAt: time.Now().Unix(),
	}
	err := d.db.Transaction(func(dbTx *gorm.DB) error {
		return dbTx.Create(job).Error
	})
	if err != nil {
		if isDuplicateEntry(err) {
			// the row already exists, hand back the persisted one
			return d.GetJob(jobID)
		}
		return nil, err
	}
	return job, nil
}

func (d *ProofSvcDB) GetJob(jobID string) (*Job, error) {
	job := Job{}
	err := d.db.Model(Job{}).Where("job_id = ?", jobID).Take(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus transitions a job from one status to another. The guard on
// the current status makes terminal states sticky: a Completed or Failed row
// can never be moved back to Pending or flipped to the other terminal state.
func (d *ProofSvcDB) UpdateJobStatus(jobID string, from, to JobStatus, reason, result string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		tx := dbTx.Model(Job{}).Where("job_id = ? and status = ?", jobID, from).Updates(
			map[string]interface{}{
				"status":     to,
				"reason":     reason,
				"result":     result,
				"updated_at": time.Now().Unix(),
			})
		if tx.Error != nil {
			return tx.Error
		}
		if tx.RowsAffected == 0 {
			job := Job{}
			if err := dbTx.Model(Job{}).Where("job_id = ?", jobID).Take(&job).Error; err != nil {
				return err
			}
			if job.Status == to {
				// idempotent re-apply of the same transition
				return nil
			}
			return ErrJobStatusConflict
		}
		return nil
	})
}

type ChainStateDB interface {
	GetRelayedBlock(blockNumber uint64) (*RelayedBlock, error)
	MarkBlockRelayed(blockNumber uint64, stateRoot string) error
	GetProvenAccount(blockNumber uint64, account string) (*ProvenAccount, error)
	MarkAccountProven(blockNumber uint64, account, storageHash string) error
	GetProvenStorage(blockNumber uint64, account, slot string) (*ProvenStorage, error)
	MarkStorageProven(blockNumber uint64, account, slot, value string) error
}

func (d *ProofSvcDB) GetRelayedBlock(blockNumber uint64) (*RelayedBlock, error) {
	block := RelayedBlock{}
	err := d.db.Model(RelayedBlock{}).Where("block_number = ?", blockNumber).Take(&block).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &block, nil
}

func (d *ProofSvcDB) MarkBlockRelayed(blockNumber uint64, stateRoot string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(&RelayedBlock{
			BlockNumber: blockNumber,
			StateRoot:   stateRoot,
			CreatedAt:   time.Now().Unix(),
		}).Error
		if err != nil && isDuplicateEntry(err) {
			return nil
		}
		return err
	})
}

func (d *ProofSvcDB) GetProvenAccount(blockNumber uint64, account string) (*ProvenAccount, error) {
	proven := ProvenAccount{}
	err := d.db.Model(ProvenAccount{}).Where("block_number = ? and account = ?", blockNumber, account).Take(&proven).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &proven, nil
}

func (d *ProofSvcDB) MarkAccountProven(blockNumber uint64, account, storageHash string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(&ProvenAccount{
			BlockNumber: blockNumber,
			Account:     account,
			StorageHash: storageHash,
			CreatedAt:   time.Now().Unix(),
		}).Error
		if err != nil && isDuplicateEntry(err) {
			return nil
		}
		return err
	})
}

func (d *ProofSvcDB) GetProvenStorage(blockNumber uint64, account, slot string) (*ProvenStorage, error) {
	proven := ProvenStorage{}
	err := d.db.Model(ProvenStorage{}).Where("block_number = ? and account = ? and slot = ?", blockNumber, account, slot).Take(&proven).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &proven, nil
}

func (d *ProofSvcDB) MarkStorageProven(blockNumber uint64, account, slot, value string) error {
	return d.db.Transaction(func(dbTx *gorm.DB) error {
		err := dbTx.Create(&ProvenStorage{
			BlockNumber: blockNumber,
			Account:     account,
			Slot:        slot,
			Value:       value,
			CreatedAt:   time.Now().Unix(),
		}).Error
		if err != nil && isDuplicateEntry(err) {
			return nil
		}
		return err
	})
}

// isDuplicateEntry matches the unique key violation of both supported
// dialects. The chain state tables treat re-marking an existing key as a
// no-op, the records are immutable mirrors of on-chain state.
func isDuplicateEntry(err error) bool {
	return strings.Contains(err.Error(), "Duplicate entry") ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func InitTables(db *gorm.DB) {
	var err error
	if err = db.AutoMigrate(&Job{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&RelayedBlock{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&ProvenAccount{}); err != nil {
		panic(err)
	}
	if err = db.AutoMigrate(&ProvenStorage{}); err != nil {
		panic(err)
	}
}
