package db

type JobStatus string

const (
	JobStatusPending   JobStatus = "Pending"
	JobStatusCompleted JobStatus = "Completed"
	JobStatusFailed    JobStatus = "Failed"
)

// IsTerminal reports whether a status may never be left again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the ledger row of one request. Rows are never deleted, they are the
// audit trail of every resolution ever attempted.
type Job struct {
	Id        int64
	JobId     string    `gorm:"NOT NULL;uniqueIndex:idx_job_id;size:128"`
	Status    JobStatus `gorm:"NOT NULL;index:idx_job_status;size:16"`
	Reason    string    `gorm:"size:64"`
	Result    string    `gorm:"type:text"` // JSON encoded types.ProvenResult, empty until terminal
	CreatedAt int64     `gorm:"NOT NULL"`
	UpdatedAt int64
}

func (*Job) TableName() string {
	return "job"
}

// RelayedBlock records a block whose state root is confirmed present in the
// L1 headers store on Starknet. Immutable once written.
type RelayedBlock struct {
	Id          int64
	BlockNumber uint64 `gorm:"NOT NULL;uniqueIndex:idx_relayed_block_number"`
	StateRoot   string `gorm:"NOT NULL;size:66"`
	CreatedAt   int64
}

func (*RelayedBlock) TableName() string {
	return "relayed_block"
}

// ProvenAccount mirrors a confirmed account fact on the registry contract.
type ProvenAccount struct {
	Id          int64
	BlockNumber uint64 `gorm:"NOT NULL;uniqueIndex:idx_proven_account,priority:1"`
	Account     string `gorm:"NOT NULL;uniqueIndex:idx_proven_account,priority:2;size:42"`
	StorageHash string `gorm:"size:66"`
	CreatedAt   int64
}

func (*ProvenAccount) TableName() string {
	return "proven_account"
}

// ProvenStorage mirrors a confirmed storage fact on the registry contract.
type ProvenStorage struct {
	Id          int64
	BlockNumber uint64 `gorm:"NOT NULL;uniqueIndex:idx_proven_storage,priority:1"`
	Account     string `gorm:"NOT NULL;uniqueIndex:idx_proven_storage,priority:2;size:42"`
	Slot        string `gorm:"NOT NULL;uniqueIndex:idx_proven_storage,priority:3;size:66"`
	Value       string `gorm:"size:66"`
	CreatedAt   int64
}

func (*ProvenStorage) TableName() string {
	return "proven_storage"
}
