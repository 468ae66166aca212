package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"github.com/fossil-labs/proof-hub/orchestrator"
	"github.com/fossil-labs/proof-hub/types"
)

// JobResponse is the poll-side view of a job.
type JobResponse struct {
	JobID     string          `json:"job_id"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

type Proof interface {
	SubmitRequest(ctx context.Context, accountAddress string, storageKeys []string, blockNumber uint64, jobID string) (string, error)
	GetJob(jobID string) (*JobResponse, error)
}

type ProofService struct {
	orch *orchestrator.Orchestrator
}

func NewProofService(orch *orchestrator.Orchestrator) Proof {
	return &ProofService{orch: orch}
}

func (s *ProofService) SubmitRequest(ctx context.Context, accountAddress string, storageKeys []string, blockNumber uint64, jobID string) (string, error) {
	if !common.IsHexAddress(accountAddress) {
		return "", ErrInvalidAccountAddress.Enrich(accountAddress)
	}
	slots := make([]common.Hash, 0, len(storageKeys))
	for _, key := range storageKeys {
		bz, err := common.ParseHexOrString(key)
		if err != nil || len(bz) > 32 {
			return "", ErrInvalidStorageKey.Enrich(key)
		}
		slots = append(slots, common.BytesToHash(bz))
	}
	req := &types.Request{
		JobID:          jobID,
		AccountAddress: common.HexToAddress(accountAddress),
		StorageKeys:    slots,
		BlockNumber:    blockNumber,
	}
	return s.orch.Submit(ctx, req)
}

func (s *ProofService) GetJob(jobID string) (*JobResponse, error) {
	job, err := s.orch.Poll(jobID)
	if err != nil {
		return nil, err
	}
	resp := &JobResponse{
		JobID:     job.JobId,
		Status:    string(job.Status),
		Reason:    job.Reason,
		CreatedAt: job.CreatedAt,
	}
	if job.Result != "" {
		resp.Result = json.RawMessage(job.Result)
	}
	return resp, nil
}

// StatusURL builds the poll endpoint path of a job.
func StatusURL(jobID string) string {
	return fmt.Sprintf("/v1/jobs/%s", jobID)
}

// IsNotFound reports whether err means the job id has never been seen.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
