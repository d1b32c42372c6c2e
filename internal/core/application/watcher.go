package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultMaxPollInterval = 5 * time.Minute
	pollJitterPercent      = 10
)

// watcher drives every non-terminal contract forward: it broadcasts or
// detects the funding tx, settles once the oracles attest, refunds after the
// timeout and detects settlements made by the counterparty.
type watcher struct {
	svc             *service
	pollInterval    time.Duration
	maxPollInterval time.Duration
}

func newWatcher(svc *service, pollInterval, maxPollInterval time.Duration) *watcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if maxPollInterval < pollInterval {
		maxPollInterval = max(defaultMaxPollInterval, pollInterval)
	}
	return &watcher{svc, pollInterval, maxPollInterval}
}

// run polls until ctx is done. The delay between rounds grows exponentially
// while nothing happens and is reset by progress or chain notifications.
func (w *watcher) run(ctx context.Context) {
	notifications, err := w.svc.chain.Notifications(ctx)
	if err != nil {
		log.WithError(err).Warn("chain notifications not available, polling only")
	}

	backoff := w.newBackoff()
	for {
		if progress := w.processAll(ctx); progress {
			backoff = w.newBackoff()
		}

		delay, _ := backoff.Next()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case _, ok := <-notifications:
			timer.Stop()
			if !ok {
				notifications = nil
			}
			backoff = w.newBackoff()
		case <-timer.C:
		}
	}
}

// newBackoff expects a positive poll interval, see newWatcher.
func (w *watcher) newBackoff() retry.Backoff {
	backoff := retry.NewExponential(w.pollInterval)
	backoff = retry.WithCappedDuration(w.maxPollInterval, backoff)
	return retry.WithJitterPercent(pollJitterPercent, backoff)
}

// processAll returns whether any contract moved to a new state.
func (w *watcher) processAll(ctx context.Context) bool {
	ids, err := w.svc.repoManager.Contracts().ListByState(
		ctx, domain.ContractStateSigned, domain.ContractStateBroadcast,
		domain.ContractStateFailed,
	)
	if err != nil {
		log.WithError(err).Warn("failed to list pending contracts")
		return false
	}

	progress := false
	for _, id := range ids {
		if ctx.Err() != nil {
			return progress
		}
		moved, err := w.process(ctx, id)
		if err != nil {
			logProcessError(id, err)
		}
		progress = progress || moved
	}
	return progress
}

// process makes one step for the given contract and returns whether its state
// changed.
func (w *watcher) process(ctx context.Context, contractId string) (bool, error) {
	unlock, err := w.svc.locker.Lock(ctx, contractId)
	if err != nil {
		return false, err
	}
	defer unlock()

	contract, err := w.svc.repoManager.Contracts().Load(ctx, contractId)
	if err != nil {
		return false, err
	}
	state := contract.State

	switch contract.State {
	case domain.ContractStateSigned:
		err = w.processSigned(ctx, contract)
	case domain.ContractStateBroadcast:
		err = w.processBroadcast(ctx, contract)
	case domain.ContractStateFailed:
		if !contract.IsRefundable() {
			return false, nil
		}
		err = w.processFailed(ctx, contract)
	default:
		return false, nil
	}
	return contract.State != state, err
}

func (w *watcher) processSigned(ctx context.Context, contract *domain.Contract) error {
	// The acceptor holds the complete funding tx and (re)broadcasts it, the
	// offerer waits for it to show up.
	if contract.Role == domain.RoleAccept {
		return w.svc.broadcastFunding(ctx, contract)
	}

	if _, err := w.svc.chain.GetConfirmations(ctx, contract.Txids.Funding); err != nil {
		if errors.Is(err, ports.ErrTransactionNotFound) {
			return nil
		}
		return domain.NewContractError(contract, domain.NetworkError, "", err)
	}
	if _, err := contract.Broadcast(contract.Txids.Funding); err != nil {
		return err
	}
	if err := w.svc.saveContract(ctx, contract); err != nil {
		return err
	}
	log.Infof("funding tx of contract %s seen on chain", contract.Id)
	return nil
}

func (w *watcher) processBroadcast(ctx context.Context, contract *domain.Contract) error {
	settled, err := w.detectSettlement(ctx, contract)
	if err != nil || settled {
		return err
	}

	tip, err := w.svc.chain.GetTipHeight(ctx)
	if err != nil {
		return domain.NewContractError(contract, domain.NetworkError, "", err)
	}

	confirmations, err := w.svc.chain.GetConfirmations(ctx, contract.Txids.Funding)
	if err != nil {
		if !errors.Is(err, ports.ErrTransactionNotFound) {
			return domain.NewContractError(contract, domain.NetworkError, "", err)
		}
		// A dropped funding tx is published again by the party holding it.
		if err := w.rebroadcastFunding(ctx, contract); err != nil {
			logProcessError(contract.Id, err)
		}
	}

	// Confirmation waits are bounded by the refund timeout.
	if tip >= contract.Terms.Timeout {
		return w.svc.refund(ctx, contract)
	}
	if confirmations < w.svc.cfg.MinConfirmations {
		return nil
	}

	err = w.svc.settle(ctx, contract)
	if errors.Is(err, ports.ErrAttestationPending) {
		return nil
	}
	return err
}

// processFailed refunds contracts that failed after the funding tx was
// published, the refund tx is still valid for them.
func (w *watcher) processFailed(ctx context.Context, contract *domain.Contract) error {
	settled, err := w.detectSettlement(ctx, contract)
	if err != nil || settled {
		return err
	}

	tip, err := w.svc.chain.GetTipHeight(ctx)
	if err != nil {
		return domain.NewContractError(contract, domain.NetworkError, "", err)
	}
	if tip < contract.Terms.Timeout {
		return nil
	}
	return w.svc.refund(ctx, contract)
}

func (w *watcher) rebroadcastFunding(ctx context.Context, contract *domain.Contract) error {
	if contract.Role != domain.RoleAccept || len(contract.FundingTx) <= 0 {
		return nil
	}
	if _, err := w.svc.chain.Broadcast(ctx, contract.FundingTx); err != nil {
		return domain.NewContractError(
			contract, domain.NetworkError, "", fmt.Errorf("failed to rebroadcast funding tx: %w", err),
		)
	}
	log.Debugf("rebroadcast funding tx of contract %s", contract.Id)
	return nil
}

// detectSettlement looks for a CET or the refund tx of the contract on chain.
// When the counterparty broadcast a CET the oracle secret is extracted from
// its witness.
func (w *watcher) detectSettlement(
	ctx context.Context, contract *domain.Contract,
) (bool, error) {
	if _, err := w.svc.chain.GetConfirmations(ctx, contract.Txids.Refund); err == nil {
		if _, err := contract.Refund(contract.Txids.Refund); err != nil {
			return false, err
		}
		log.Infof("refund tx of contract %s seen on chain", contract.Id)
		return true, w.svc.saveContract(ctx, contract)
	}

	for _, outcome := range contract.Terms.OutcomeLabels() {
		txid := contract.Txids.Cets[outcome]
		txHex, err := w.svc.chain.GetTransaction(ctx, txid)
		if err != nil {
			if errors.Is(err, ports.ErrTransactionNotFound) {
				continue
			}
			return false, domain.NewContractError(contract, domain.NetworkError, "", err)
		}

		cet, err := deserializeTx(txHex)
		if err != nil {
			return false, fmt.Errorf("failed to parse CET %s: %s", txid, err)
		}
		secret, err := extractOracleSecret(contract, outcome, cet)
		if err != nil {
			log.WithError(err).Warnf(
				"failed to extract oracle secret from CET %s of contract %s", txid, contract.Id,
			)
		} else {
			secret.Zero()
			log.Debugf(
				"extracted oracle secret for outcome %s of contract %s", outcome, contract.Id,
			)
		}

		if _, err := contract.Execute(outcome, txid); err != nil {
			return false, err
		}
		log.Infof(
			"CET %s of contract %s for outcome %s seen on chain", txid, contract.Id, outcome,
		)
		return true, w.svc.saveContract(ctx, contract)
	}
	return false, nil
}

func logProcessError(contractId string, err error) {
	var contractErr *domain.ContractError
	if errors.As(err, &contractErr) && contractErr.Retryable() {
		log.WithError(err).Debugf("contract %s not ready yet", contractId)
		return
	}
	log.WithError(err).Warnf("failed to process contract %s", contractId)
}
