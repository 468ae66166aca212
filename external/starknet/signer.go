package starknet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SidecarSigner delegates Stark curve signing to an external signing service
// that holds the account key. The orchestrator never touches key material.
type SidecarSigner struct {
	hc       *http.Client
	endpoint string
}

func NewSidecarSigner(endpoint string) *SidecarSigner {
	return &SidecarSigner{
		hc:       &http.Client{Timeout: 10 * time.Second},
		endpoint: endpoint,
	}
}

type signRequest struct {
	Digest string `json:"digest"`
}

type signResponse struct {
	Signature []string `json:"signature"`
}

func (s *SidecarSigner) Sign(digest string) ([]string, error) {
	body, err := json.Marshal(&signRequest{Digest: digest})
	if err != nil {
		return nil, err
	}
	resp, err := s.hc.Post(s.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-OK response status: %s", resp.Status)
	}
	respBz, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	signResp := signResponse{}
	if err = json.Unmarshal(respBz, &signResp); err != nil {
		return nil, err
	}
	if len(signResp.Signature) == 0 {
		return nil, fmt.Errorf("signer returned an empty signature")
	}
	return signResp.Signature, nil
}
