package application

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	dlclib "github.com/Anya-org/dlcd/pkg/dlc-lib"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	log "github.com/sirupsen/logrus"
)

const defaultContractTimeout = 144

type service struct {
	// services
	wallet      ports.WalletService
	repoManager ports.RepoManager
	builder     ports.TxBuilder
	chain       ports.BlockchainService
	oracles     ports.OracleClient
	resolver    ports.AttestationResolver
	locker      ports.ContractLocker
	manager     *contractManager
	watcher     *watcher

	// config
	network dlclib.Network
	cfg     Config

	// stop and watcher go routine handlers
	stop func()
	ctx  context.Context
	wg   *sync.WaitGroup
}

func NewService(
	cfg Config, wallet ports.WalletService, repoManager ports.RepoManager,
	builder ports.TxBuilder, chain ports.BlockchainService,
	oracles ports.OracleClient, resolver ports.AttestationResolver,
	locker ports.ContractLocker,
) (Service, error) {
	network, err := dlclib.NetworkFromString(cfg.Network)
	if err != nil {
		return nil, err
	}
	if len(cfg.Oracles) <= 0 {
		cfg.Oracles = oracles.Oracles()
	}
	if cfg.OracleThreshold <= 0 && len(cfg.Oracles) == 1 {
		cfg.OracleThreshold = 1
	}
	if len(cfg.Oracles) > 0 &&
		(cfg.OracleThreshold <= 0 || int(cfg.OracleThreshold) > len(cfg.Oracles)) {
		return nil, fmt.Errorf(
			"invalid oracle threshold %d for %d oracles", cfg.OracleThreshold, len(cfg.Oracles),
		)
	}
	if cfg.ContractTimeout <= 0 {
		cfg.ContractTimeout = defaultContractTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &service{
		wallet:      wallet,
		repoManager: repoManager,
		builder:     builder,
		chain:       chain,
		oracles:     oracles,
		resolver:    resolver,
		locker:      locker,
		manager:     &contractManager{builder: builder, signer: wallet},
		network:     network,
		cfg:         cfg,
		stop:        cancel,
		ctx:         ctx,
		wg:          &sync.WaitGroup{},
	}
	svc.watcher = newWatcher(svc, cfg.PollInterval, cfg.MaxPollInterval)

	return svc, nil
}

func (s *service) Start() error {
	status, err := s.wallet.Status(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to get wallet status: %s", err)
	}
	if !status.IsUnlocked() {
		return ports.ErrWalletLocked
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watcher.run(s.ctx)
	}()

	log.Infof("dlc service started on %s", s.network.Name)
	return nil
}

func (s *service) Stop() {
	s.stop()
	s.wg.Wait()
	log.Debug("stopped contract watcher")

	ctx := context.Background()
	// nolint
	s.wallet.Lock(ctx)
	log.Debug("locked wallet")
	s.wallet.Close()
	log.Debug("closed wallet")
	s.chain.Close()
	log.Debug("closed connection to chain backend")
	s.locker.Close()
	s.repoManager.Close()
	log.Debug("closed connection to db")
}

func (s *service) CreateContract(
	ctx context.Context, req CreateContractRequest,
) (*OfferMessage, error) {
	oracles := req.Oracles
	threshold := req.Threshold
	if len(oracles) <= 0 {
		oracles = s.cfg.Oracles
		if threshold <= 0 {
			threshold = s.cfg.OracleThreshold
		}
	}
	if threshold <= 0 && len(oracles) == 1 {
		threshold = 1
	}
	if s.cfg.MaxContractValue > 0 &&
		req.OfferCollateral+req.AcceptCollateral > s.cfg.MaxContractValue {
		return nil, fmt.Errorf(
			"contract value exceeds max %d sats", s.cfg.MaxContractValue,
		)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		tip, err := s.chain.GetTipHeight(ctx)
		if err != nil {
			return nil, domain.NewContractError(nil, domain.NetworkError, "", err)
		}
		timeout = tip + s.cfg.ContractTimeout
	}

	announcements := make([]oracle.Announcement, 0, len(oracles))
	for _, oracleId := range oracles {
		ann, err := s.oracles.FetchAnnouncement(ctx, oracleId, req.EventId)
		if err != nil {
			return nil, oracleFetchError(nil, err)
		}
		announcements = append(announcements, *ann)
	}
	labels := make([]string, 0, len(req.Outcomes))
	for _, p := range req.Outcomes {
		labels = append(labels, p.Outcome)
	}
	if err := checkOutcomeSet(labels, announcements); err != nil {
		return nil, domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantOutcomeSet, err,
		)
	}

	params, err := s.partyParams(ctx, req.OfferCollateral, req.FeeRate)
	if err != nil {
		return nil, err
	}

	terms := domain.ContractTerms{
		EventId:          req.EventId,
		Oracles:          oracles,
		Threshold:        threshold,
		Outcomes:         req.Outcomes,
		OfferCollateral:  req.OfferCollateral,
		AcceptCollateral: req.AcceptCollateral,
		FeeRate:          req.FeeRate,
		Timeout:          timeout,
		Offer:            *params,
	}

	contract := domain.NewContract()
	if _, err := contract.Offer(domain.RoleOffer, terms, announcements); err != nil {
		return nil, domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantTerms, err,
		)
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return nil, err
	}

	log.Infof("created contract %s for event %s", contract.Id, terms.EventId)
	return &OfferMessage{
		ContractId:    contract.Id,
		Terms:         terms,
		Announcements: announcements,
	}, nil
}

func (s *service) AcceptContract(
	ctx context.Context, offer OfferMessage,
) (*AcceptMessage, error) {
	if len(offer.ContractId) <= 0 {
		return nil, fmt.Errorf("missing contract id")
	}
	terms := offer.Terms
	if err := terms.Validate(); err != nil {
		return nil, domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantTerms, err,
		)
	}
	if !terms.Accept.IsEmpty() {
		return nil, domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantTerms,
			fmt.Errorf("offer already contains accept params"),
		)
	}
	if s.cfg.MaxContractValue > 0 && terms.TotalCollateral() > s.cfg.MaxContractValue {
		return nil, fmt.Errorf("contract value exceeds max %d sats", s.cfg.MaxContractValue)
	}
	if err := s.verifyAnnouncements(ctx, terms, offer.Announcements); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, offer.ContractId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := s.repoManager.Contracts().Load(ctx, offer.ContractId); err == nil {
		return nil, fmt.Errorf("contract %s already exists", offer.ContractId)
	} else if !errors.Is(err, domain.ErrContractNotFound) {
		return nil, err
	}

	params, err := s.partyParams(ctx, terms.AcceptCollateral, terms.FeeRate)
	if err != nil {
		return nil, err
	}

	complete := terms
	complete.Accept = *params
	if err := complete.ValidateComplete(); err != nil {
		return nil, domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantTerms, err,
		)
	}
	txs, err := s.manager.buildTxs(complete, offer.Announcements)
	if err != nil {
		return nil, domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantTerms, err,
		)
	}
	sigs, err := s.manager.sign(ctx, complete, offer.Announcements, txs)
	if err != nil {
		return nil, err
	}
	termsHash, err := complete.Hash()
	if err != nil {
		return nil, err
	}

	contract := domain.NewContract()
	contract.Id = offer.ContractId
	if _, err := contract.Offer(domain.RoleAccept, terms, offer.Announcements); err != nil {
		return nil, err
	}
	if _, err := contract.Accept(*params, *sigs, txs.txids()); err != nil {
		return nil, err
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return nil, err
	}

	log.Infof("accepted contract %s", contract.Id)
	return &AcceptMessage{
		ContractId:   contract.Id,
		TermsHash:    termsHash,
		AcceptParams: *params,
		Signatures:   *sigs,
	}, nil
}

func (s *service) SignContract(
	ctx context.Context, accept AcceptMessage,
) (*SignMessage, error) {
	unlock, err := s.locker.Lock(ctx, accept.ContractId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	contract, err := s.repoManager.Contracts().Load(ctx, accept.ContractId)
	if err != nil {
		return nil, err
	}
	if contract.Role != domain.RoleOffer || contract.State != domain.ContractStateOffered {
		return nil, domain.NewContractError(
			contract, domain.ProtocolViolation, "",
			fmt.Errorf("contract can't be signed as %s", contract.Role),
		)
	}

	terms := contract.Terms
	terms.Accept = accept.AcceptParams
	if err := terms.ValidateComplete(); err != nil {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.ProtocolViolation, domain.InvariantTerms, err,
		))
	}
	termsHash, err := terms.Hash()
	if err != nil {
		return nil, err
	}
	if termsHash != accept.TermsHash {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.ProtocolViolation, domain.InvariantTermsHash,
			fmt.Errorf("expected terms hash %s, got %s", termsHash, accept.TermsHash),
		))
	}

	txs, err := s.manager.buildTxs(terms, contract.Announcements)
	if err != nil {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.ProtocolViolation, domain.InvariantTerms, err,
		))
	}
	acceptKey, err := terms.Accept.PubKey()
	if err != nil {
		return nil, err
	}
	if err := s.manager.verifyCetSignatures(
		terms, contract.Announcements, txs, accept.Signatures, acceptKey,
	); err != nil {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantCetSignatures, err,
		))
	}
	if err := s.manager.verifyRefundSignature(
		terms, txs, accept.Signatures.RefundSignature, acceptKey,
	); err != nil {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantRefundSignature, err,
		))
	}

	sigs, err := s.manager.sign(ctx, terms, contract.Announcements, txs)
	if err != nil {
		return nil, err
	}
	ptx, err := s.manager.fundingPsbt(terms, txs.funding)
	if err != nil {
		return nil, err
	}
	if err := s.manager.signFunding(ctx, ptx, terms.Offer.Inputs); err != nil {
		return nil, err
	}
	encodedPsbt, err := ptx.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("failed to encode funding psbt: %s", err)
	}

	if _, err := contract.Accept(accept.AcceptParams, accept.Signatures, txs.txids()); err != nil {
		return nil, err
	}
	if _, err := contract.Sign(*sigs, ""); err != nil {
		return nil, err
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return nil, err
	}

	log.Infof("signed contract %s", contract.Id)
	return &SignMessage{
		ContractId:  contract.Id,
		Signatures:  *sigs,
		FundingPsbt: encodedPsbt,
	}, nil
}

func (s *service) FinalizeContract(
	ctx context.Context, sign SignMessage,
) (*ContractStatus, error) {
	unlock, err := s.locker.Lock(ctx, sign.ContractId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	contract, err := s.repoManager.Contracts().Load(ctx, sign.ContractId)
	if err != nil {
		return nil, err
	}
	if contract.Role != domain.RoleAccept || contract.State != domain.ContractStateAccepted {
		return nil, domain.NewContractError(
			contract, domain.ProtocolViolation, "",
			fmt.Errorf("contract can't be finalized as %s", contract.Role),
		)
	}

	terms := contract.Terms
	txs, err := s.manager.buildTxs(terms, contract.Announcements)
	if err != nil {
		return nil, err
	}
	offerKey, err := terms.Offer.PubKey()
	if err != nil {
		return nil, err
	}
	if err := s.manager.verifyCetSignatures(
		terms, contract.Announcements, txs, sign.Signatures, offerKey,
	); err != nil {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantCetSignatures, err,
		))
	}
	if err := s.manager.verifyRefundSignature(
		terms, txs, sign.Signatures.RefundSignature, offerKey,
	); err != nil {
		return nil, s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.CryptographicError, domain.InvariantRefundSignature, err,
		))
	}

	fundingTx, err := s.completeFunding(ctx, contract, txs, sign.FundingPsbt)
	if err != nil {
		return nil, err
	}

	if _, err := contract.Sign(sign.Signatures, fundingTx); err != nil {
		return nil, err
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return nil, err
	}
	log.Infof("signed contract %s", contract.Id)

	if err := s.broadcastFunding(ctx, contract); err != nil {
		log.WithError(err).Warnf(
			"failed to broadcast funding tx of contract %s, will retry", contract.Id,
		)
	}

	status := newContractStatus(contract)
	return &status, nil
}

func (s *service) GetContractStatus(
	ctx context.Context, contractId string,
) (*ContractStatus, error) {
	contract, err := s.repoManager.Contracts().Load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	status := newContractStatus(contract)
	return &status, nil
}

func (s *service) ListContracts(
	ctx context.Context, states ...domain.ContractState,
) ([]ContractStatus, error) {
	ids, err := s.repoManager.Contracts().ListByState(ctx, states...)
	if err != nil {
		return nil, err
	}
	list := make([]ContractStatus, 0, len(ids))
	for _, id := range ids {
		contract, err := s.repoManager.Contracts().Load(ctx, id)
		if err != nil {
			return nil, err
		}
		list = append(list, newContractStatus(contract))
	}
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt < list[j].CreatedAt
	})
	return list, nil
}

func (s *service) Settle(ctx context.Context, contractId string) (*ContractStatus, error) {
	unlock, err := s.locker.Lock(ctx, contractId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	contract, err := s.repoManager.Contracts().Load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	if err := s.settle(ctx, contract); err != nil {
		return nil, err
	}
	status := newContractStatus(contract)
	return &status, nil
}

func (s *service) Refund(ctx context.Context, contractId string) (*ContractStatus, error) {
	unlock, err := s.locker.Lock(ctx, contractId)
	if err != nil {
		return nil, err
	}
	defer unlock()

	contract, err := s.repoManager.Contracts().Load(ctx, contractId)
	if err != nil {
		return nil, err
	}
	if err := s.refund(ctx, contract); err != nil {
		return nil, err
	}
	status := newContractStatus(contract)
	return &status, nil
}

func (s *service) GetInfo(ctx context.Context) (*ServiceInfo, error) {
	pubkey, err := s.wallet.GetPubkey(ctx)
	if err != nil {
		return nil, err
	}
	address, err := s.wallet.GetAddress(ctx)
	if err != nil {
		return nil, err
	}
	tip, err := s.chain.GetTipHeight(ctx)
	if err != nil {
		return nil, domain.NewContractError(nil, domain.NetworkError, "", err)
	}

	return &ServiceInfo{
		Network:          s.network.Name,
		FundingPubKey:    hex.EncodeToString(pubkey.SerializeCompressed()),
		Address:          address,
		Oracles:          s.cfg.Oracles,
		OracleThreshold:  s.cfg.OracleThreshold,
		ContractTimeout:  s.cfg.ContractTimeout,
		MaxContractValue: s.cfg.MaxContractValue,
		TipHeight:        tip,
	}, nil
}

func (s *service) ListAnnouncements(
	ctx context.Context, oracleId string,
) ([]oracle.Announcement, error) {
	list, err := s.oracles.ListAnnouncements(ctx, oracleId)
	if err != nil {
		if errors.Is(err, ports.ErrUnknownOracle) {
			return nil, err
		}
		return nil, oracleFetchError(nil, err)
	}
	announcements := make([]oracle.Announcement, 0, len(list))
	for _, ann := range list {
		announcements = append(announcements, *ann)
	}
	return announcements, nil
}

// settle broadcasts the CET of the attested outcome. Must be called with
// the contract lock held.
func (s *service) settle(ctx context.Context, contract *domain.Contract) error {
	if contract.State != domain.ContractStateBroadcast {
		return domain.NewContractError(
			contract, domain.ProtocolViolation, "",
			fmt.Errorf("contract can't be settled before the funding tx is broadcast"),
		)
	}

	tip, err := s.chain.GetTipHeight(ctx)
	if err != nil {
		return domain.NewContractError(contract, domain.NetworkError, "", err)
	}
	if tip >= contract.Terms.Timeout {
		return domain.NewContractError(
			contract, domain.ProtocolViolation, domain.InvariantTimeout,
			fmt.Errorf(
				"refund timeout %d reached at height %d, only refund is allowed",
				contract.Terms.Timeout, tip,
			),
		)
	}

	resolution, err := s.resolver.Resolve(
		ctx, contract.Terms.Oracles, int(contract.Terms.Threshold), contract.Announcements,
	)
	if err != nil {
		contractErr := oracleFetchError(contract, err)
		if domain.IsFatal(contractErr) {
			return s.failContract(ctx, contract, contractErr)
		}
		return contractErr
	}

	txs, err := s.manager.buildTxs(contract.Terms, contract.Announcements)
	if err != nil {
		return err
	}
	cet, err := s.manager.settlementTx(ctx, contract, txs, resolution)
	if err != nil {
		if domain.IsFatal(err) {
			var contractErr *domain.ContractError
			errors.As(err, &contractErr)
			return s.failContract(ctx, contract, contractErr)
		}
		return err
	}
	txHex, err := serializeTx(cet)
	if err != nil {
		return err
	}
	txid, err := s.chain.Broadcast(ctx, txHex)
	if err != nil {
		return domain.NewContractError(
			contract, domain.NetworkError, "", fmt.Errorf("failed to broadcast CET: %w", err),
		)
	}

	if _, err := contract.Execute(resolution.Outcome, txid); err != nil {
		return err
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return err
	}
	log.Infof(
		"executed contract %s with outcome %s in tx %s", contract.Id, resolution.Outcome, txid,
	)
	return nil
}

// refund broadcasts the refund tx once the timeout is reached. Must be
// called with the contract lock held.
func (s *service) refund(ctx context.Context, contract *domain.Contract) error {
	if !contract.IsRefundable() {
		return domain.NewContractError(
			contract, domain.ProtocolViolation, "",
			fmt.Errorf("contract can't be refunded before the funding tx is broadcast"),
		)
	}

	tip, err := s.chain.GetTipHeight(ctx)
	if err != nil {
		return domain.NewContractError(contract, domain.NetworkError, "", err)
	}
	if tip < contract.Terms.Timeout {
		return domain.NewContractError(
			contract, domain.ProtocolViolation, "",
			fmt.Errorf(
				"refund timeout %d not reached, current height %d", contract.Terms.Timeout, tip,
			),
		)
	}

	txs, err := s.manager.buildTxs(contract.Terms, contract.Announcements)
	if err != nil {
		return err
	}
	refundTx, err := s.manager.refundTx(ctx, contract, txs)
	if err != nil {
		return err
	}
	txHex, err := serializeTx(refundTx)
	if err != nil {
		return err
	}
	txid, err := s.chain.Broadcast(ctx, txHex)
	if err != nil {
		return domain.NewContractError(
			contract, domain.NetworkError, "", fmt.Errorf("failed to broadcast refund tx: %w", err),
		)
	}

	if _, err := contract.Refund(txid); err != nil {
		return err
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return err
	}
	log.Infof("refunded contract %s in tx %s", contract.Id, txid)
	return nil
}

// completeFunding checks the offerer's funding psbt matches the rebuilt
// funding tx, adds our signatures and returns the final hex encoded tx.
func (s *service) completeFunding(
	ctx context.Context, contract *domain.Contract, txs *contractTxs, encodedPsbt string,
) (string, error) {
	fail := func(err error) error {
		return s.failContract(ctx, contract, domain.NewContractError(
			contract, domain.ProtocolViolation, domain.InvariantFundingTx, err,
		))
	}

	ptx, err := psbt.NewFromRawBytes(strings.NewReader(encodedPsbt), true)
	if err != nil {
		return "", fail(fmt.Errorf("invalid funding psbt: %s", err))
	}
	if ptx.UnsignedTx.TxHash() != txs.funding.TxHash() {
		return "", fail(fmt.Errorf(
			"expected funding tx %s, got %s", txs.funding.TxHash(), ptx.UnsignedTx.TxHash(),
		))
	}
	if err := setFundingPrevouts(contract.Terms, ptx); err != nil {
		return "", fail(err)
	}
	if err := s.manager.signFunding(ctx, ptx, contract.Terms.Accept.Inputs); err != nil {
		return "", err
	}
	if err := psbt.MaybeFinalizeAll(ptx); err != nil {
		return "", fail(fmt.Errorf("funding tx is not fully signed: %s", err))
	}
	tx, err := psbt.Extract(ptx)
	if err != nil {
		return "", fail(err)
	}
	return serializeTx(tx)
}

// broadcastFunding publishes the signed funding tx, if the tx is already
// known to the chain backend the contract moves anyway.
func (s *service) broadcastFunding(ctx context.Context, contract *domain.Contract) error {
	if len(contract.FundingTx) <= 0 {
		return fmt.Errorf("missing signed funding tx")
	}
	txid, err := s.chain.Broadcast(ctx, contract.FundingTx)
	if err != nil {
		if _, confErr := s.chain.GetConfirmations(ctx, contract.Txids.Funding); confErr != nil {
			return domain.NewContractError(contract, domain.NetworkError, "", err)
		}
		txid = contract.Txids.Funding
	}
	if _, err := contract.Broadcast(txid); err != nil {
		return err
	}
	if err := s.saveContract(ctx, contract); err != nil {
		return err
	}
	log.Infof("broadcast funding tx %s of contract %s", txid, contract.Id)
	return nil
}

func (s *service) partyParams(
	ctx context.Context, collateral, feeRate uint64,
) (*domain.PartyParams, error) {
	pubkey, err := s.wallet.GetPubkey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get funding pubkey: %w", err)
	}
	address, err := s.wallet.GetAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet address: %w", err)
	}
	decoded, err := btcutil.DecodeAddress(address, s.network.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet address: %s", err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, err
	}
	pkScript := hex.EncodeToString(script)

	inputs, err := selectFundingInputs(
		ctx, s.chain, address, pkScript, collateral, feeRate, s.cfg.MinConfirmations,
	)
	if err != nil {
		return nil, err
	}

	return &domain.PartyParams{
		FundingPubKey: hex.EncodeToString(pubkey.SerializeCompressed()),
		PayoutScript:  pkScript,
		ChangeScript:  pkScript,
		Inputs:        inputs,
	}, nil
}

// verifyAnnouncements checks the announcements received with an offer match
// the ones published by the oracles.
func (s *service) verifyAnnouncements(
	ctx context.Context, terms domain.ContractTerms, announcements []oracle.Announcement,
) error {
	if len(announcements) != len(terms.Oracles) {
		return domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantAnnouncement,
			fmt.Errorf(
				"expected %d announcements, got %d", len(terms.Oracles), len(announcements),
			),
		)
	}
	for i, oracleId := range terms.Oracles {
		ann := announcements[i]
		if ann.EventId != terms.EventId {
			return domain.NewContractError(
				nil, domain.ProtocolViolation, domain.InvariantAnnouncement,
				fmt.Errorf("announcement of oracle %s is for event %s", oracleId, ann.EventId),
			)
		}
		if err := ann.Verify(); err != nil {
			return domain.NewContractError(
				nil, domain.CryptographicError, domain.InvariantAnnouncement, err,
			)
		}
		published, err := s.oracles.FetchAnnouncement(ctx, oracleId, terms.EventId)
		if err != nil {
			return oracleFetchError(nil, err)
		}
		if published.OraclePubKey != ann.OraclePubKey || published.Nonce != ann.Nonce {
			return domain.NewContractError(
				nil, domain.ProtocolViolation, domain.InvariantAnnouncement,
				fmt.Errorf("announcement of oracle %s does not match the published one", oracleId),
			)
		}
	}
	if err := checkOutcomeSet(terms.OutcomeLabels(), announcements); err != nil {
		return domain.NewContractError(
			nil, domain.ProtocolViolation, domain.InvariantOutcomeSet, err,
		)
	}
	return nil
}

func (s *service) saveContract(ctx context.Context, contract *domain.Contract) error {
	if events := contract.Events(); len(events) > 0 {
		if err := s.repoManager.Events().Save(
			ctx, domain.ContractTopic, contract.Id, events,
		); err != nil {
			return fmt.Errorf("failed to save contract events: %s", err)
		}
	}
	if err := s.repoManager.Contracts().Save(ctx, *contract); err != nil {
		return fmt.Errorf("failed to save contract: %s", err)
	}
	contract.Changes = nil
	return nil
}

// failContract moves the contract to the failed state and returns the
// given error.
func (s *service) failContract(
	ctx context.Context, contract *domain.Contract, contractErr *domain.ContractError,
) error {
	if events := contract.Fail(contractErr.Invariant, contractErr); len(events) > 0 {
		if err := s.saveContract(ctx, contract); err != nil {
			log.WithError(err).Errorf("failed to persist failure of contract %s", contract.Id)
		}
	}
	log.WithError(contractErr).Warnf("contract %s failed", contract.Id)
	return contractErr
}

// oracleFetchError tells unreachable oracles, retried with backoff, from
// invalid or malformed oracle data, fatal to the contract.
func oracleFetchError(contract *domain.Contract, err error) *domain.ContractError {
	if errors.Is(err, ports.ErrOracleUnreachable) {
		return domain.NewContractError(contract, domain.NetworkError, "", err)
	}
	if errors.Is(err, oracle.ErrInvalidAnnouncement) {
		return domain.NewContractError(
			contract, domain.OracleError, domain.InvariantAnnouncement, err,
		)
	}
	if errors.Is(err, oracle.ErrInvalidAttestation) {
		return domain.NewContractError(
			contract, domain.OracleError, domain.InvariantAttestation, err,
		)
	}
	return domain.NewContractError(contract, domain.OracleError, "", err)
}

// checkOutcomeSet makes sure every announcement commits to exactly the
// contract outcomes.
func checkOutcomeSet(outcomes []string, announcements []oracle.Announcement) error {
	for _, ann := range announcements {
		if len(ann.Outcomes) != len(outcomes) {
			return fmt.Errorf(
				"announcement of event %s has %d outcomes, contract has %d",
				ann.EventId, len(ann.Outcomes), len(outcomes),
			)
		}
		for _, outcome := range outcomes {
			if !ann.HasOutcome(outcome) {
				return fmt.Errorf("outcome %s not announced by oracle", outcome)
			}
		}
	}
	return nil
}
