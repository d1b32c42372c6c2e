package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Anya-org/dlcd/internal/core/application"
	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/google/uuid"
)

const maxBodySize = 1 << 20

// From interface type to app type

type payout struct {
	Outcome      string `json:"outcome"`
	OfferPayout  uint64 `json:"offerPayout"`
	AcceptPayout uint64 `json:"acceptPayout"`
}

type createContractRequest struct {
	EventId          string   `json:"eventId"`
	Oracles          []string `json:"oracles"`
	Threshold        uint32   `json:"threshold"`
	Outcomes         []payout `json:"outcomes"`
	OfferCollateral  uint64   `json:"offerCollateral"`
	AcceptCollateral uint64   `json:"acceptCollateral"`
	FeeRate          uint64   `json:"feeRate"`
	Timeout          uint32   `json:"timeout"`
}

func (r createContractRequest) parse() (*application.CreateContractRequest, error) {
	if len(r.EventId) <= 0 {
		return nil, fmt.Errorf("missing event id")
	}
	if len(r.Outcomes) <= 0 {
		return nil, fmt.Errorf("missing outcomes")
	}
	if r.FeeRate <= 0 {
		return nil, fmt.Errorf("missing fee rate")
	}
	if r.OfferCollateral+r.AcceptCollateral <= 0 {
		return nil, fmt.Errorf("missing collateral")
	}

	outcomes := make([]domain.Payout, 0, len(r.Outcomes))
	for _, p := range r.Outcomes {
		if len(p.Outcome) <= 0 {
			return nil, fmt.Errorf("missing outcome label")
		}
		outcomes = append(outcomes, domain.Payout{
			Outcome:      p.Outcome,
			OfferPayout:  p.OfferPayout,
			AcceptPayout: p.AcceptPayout,
		})
	}

	return &application.CreateContractRequest{
		EventId:          r.EventId,
		Oracles:          r.Oracles,
		Threshold:        r.Threshold,
		Outcomes:         outcomes,
		OfferCollateral:  r.OfferCollateral,
		AcceptCollateral: r.AcceptCollateral,
		FeeRate:          r.FeeRate,
		Timeout:          r.Timeout,
	}, nil
}

func parseContractId(id string) (string, error) {
	if len(id) <= 0 {
		return "", fmt.Errorf("missing contract id")
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid contract id %s", id)
	}
	return id, nil
}

// parseStates accepts both repeated and comma separated state params.
func parseStates(values []string) ([]domain.ContractState, error) {
	states := make([]domain.ContractState, 0, len(values))
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if len(s) <= 0 {
				continue
			}
			state, err := domain.ParseContractState(s)
			if err != nil {
				return nil, err
			}
			states = append(states, state)
		}
	}
	return states, nil
}

func readJSON(r *http.Request, v interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("failed to read request body: %s", err)
	}
	if len(body) <= 0 {
		return fmt.Errorf("missing request body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid request body: %s", err)
	}
	return nil
}

// checkContractId makes sure the id in the path matches the one in the
// message body, if any.
func checkContractId(pathId, bodyId string) error {
	if len(bodyId) > 0 && bodyId != pathId {
		return fmt.Errorf("contract id mismatch: %s in path, %s in body", pathId, bodyId)
	}
	return nil
}
