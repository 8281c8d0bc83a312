package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crossrelay/config"
	"crossrelay/memo"
	"crossrelay/registry"
	"crossrelay/types"
)

var ErrPayoutFailed = errors.New("payout failed")

// Outcome of a single deposit relay
type Outcome string

const (
	OutcomeRelayed      Outcome = "relayed"
	OutcomeFailed       Outcome = "failed"
	OutcomeSkipped      Outcome = "skipped"
	OutcomeMalformed    Outcome = "malformed"
	OutcomeUnknownChain Outcome = "unknown_chain"
	OutcomeCancelled    Outcome = "cancelled"
)

// Journal keeps a record of relay attempts
type Journal interface {
	UpsertRelayOperation(op *types.RelayOperation) error
	ChangeRelayOperationStatus(op *types.RelayOperation, prevStatus string) error
}

// Relayer turns deposits into payouts on the destination chain
type Relayer struct {
	registry *registry.Registry
	lock     RelayLock
	journal  Journal
	logger   *zap.Logger

	now func() time.Time
}

// NewRelayer builds a relayer; journal may be nil
func NewRelayer(reg *registry.Registry, lock RelayLock, journal Journal, logger *zap.Logger) *Relayer {
	return &Relayer{
		registry: reg,
		lock:     lock,
		journal:  journal,
		logger:   logger.With(zap.String("component", "relay")),
		now:      time.Now,
	}
}

// SourceAssetID names the deposited asset as <chain>.<symbol or contract address>
func SourceAssetID(sourceChain, nativeSymbol, asset string) string {
	if strings.EqualFold(asset, types.NativeAssetAddress) {
		return sourceChain + "." + nativeSymbol
	}
	return sourceChain + "." + asset
}

// TargetAssetID maps the destination native symbol to the sentinel address, anything else passes through
func TargetAssetID(memoAsset, destNativeSymbol string) string {
	if memoAsset == destNativeSymbol {
		return types.NativeAssetAddress
	}
	return memoAsset
}

// RelayDeposit handles one deposit. Errors never leave this function, they are logged
// and reflected in the returned outcome. Payouts are sent while holding the relay lock.
func (r *Relayer) RelayDeposit(ctx context.Context, ev types.DepositEvent) (outcome Outcome) {
	logger := r.logger.With(zap.String("source_chain", ev.SourceChain), zap.String("tx", ev.TxHash))

	m, err := memo.Decode(ev.Memo)
	if err != nil {
		logger.Warn("dropping deposit with malformed memo", zap.String("memo", ev.Memo), zap.Error(err))
		relayOutcomes.WithLabelValues("", string(OutcomeMalformed)).Inc()
		return OutcomeMalformed
	}
	logger = logger.With(zap.String("dest_chain", m.ChainDestination), zap.String("operation", m.Operation))
	defer func() { relayOutcomes.WithLabelValues(m.ChainDestination, string(outcome)).Inc() }()

	target, ok := r.registry.Lookup(m.ChainDestination)
	if !ok {
		logger.Debug("destination chain not registered, nothing to relay")
		return OutcomeUnknownChain
	}

	start := time.Now()
	if err := r.lock.Acquire(ctx); err != nil {
		logger.Warn("gave up waiting for relay lock", zap.Error(err))
		return OutcomeCancelled
	}
	defer r.lock.Release()
	lockWait.Observe(time.Since(start).Seconds())

	switch m.Operation {
	case types.OpSwap, types.OpSwapShort:
		return r.swap(ctx, logger, ev, m, target)
	case types.OpAdd:
		// liquidity was added to the vault, no relaying necessary
		r.record(logger, r.operation(ev, m, types.StatusSkipped), "")
		return OutcomeSkipped
	default:
		logger.Info("unsupported memo operation, nothing to relay")
		r.record(logger, r.operation(ev, m, types.StatusSkipped), "")
		return OutcomeSkipped
	}
}

func (r *Relayer) swap(ctx context.Context, logger *zap.Logger, ev types.DepositEvent, m *types.Memo, target *registry.ChainDescriptor) Outcome {
	op := r.operation(ev, m, types.StatusPending)
	r.record(logger, op, "")

	receipt, err := r.payout(ctx, logger, ev, m, target, op)
	prev := op.Status
	if err != nil {
		// no refund is attempted, the failure stays in the journal
		logger.Error("could not relay transaction", zap.Error(err))
		op.Status = types.StatusFailed
		op.Message = err.Error()
		r.record(logger, op, prev)
		return OutcomeFailed
	}

	logger.Info("relayed deposit", zap.String("payout_tx", receipt.TxHash), zap.String("dest_address", m.DestAddress))
	op.Status = types.StatusSuccess
	op.DestTxHash = receipt.TxHash
	r.record(logger, op, prev)
	return OutcomeRelayed
}

func (r *Relayer) payout(ctx context.Context, logger *zap.Logger, ev types.DepositEvent, m *types.Memo, target *registry.ChainDescriptor, op *types.RelayOperation) (*types.Receipt, error) {
	source, ok := r.registry.Lookup(ev.SourceChain)
	if !ok {
		return nil, fmt.Errorf("source chain %s is not registered", ev.SourceChain)
	}

	sourceAsset := SourceAssetID(ev.SourceChain, source.NativeAsset, ev.Asset)
	targetAsset := TargetAssetID(m.Asset, target.NativeAsset)
	expiry := r.now().Add(config.PAYOUT_EXPIRY).Unix()
	op.SourceAsset, op.TargetAsset = sourceAsset, targetAsset

	if target.RelayDelay > 0 {
		logger.Debug("delaying payout", zap.Duration("delay", target.RelayDelay))
		timer := time.NewTimer(target.RelayDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	kind := types.AssetToken
	if targetAsset == types.NativeAssetAddress {
		kind = types.AssetNative
	}
	send := target.Payout(kind)
	if send == nil {
		return nil, fmt.Errorf("chain %s has no %s payout entry point", target.Name, kind)
	}

	logger.Info("relaying deposit",
		zap.Stringer("kind", kind),
		zap.String("source_asset", sourceAsset),
		zap.String("target_asset", targetAsset),
		zap.Stringer("amount", ev.Amount),
		zap.Int64("expiry", expiry))

	receipt, err := send(ctx, registry.Payout{
		DestAddress: m.DestAddress,
		TargetAsset: targetAsset,
		Amount:      ev.Amount,
		SourceAsset: sourceAsset,
		AssetLabel:  m.AssetLabel,
		Memo:        memo.PayoutMemo(m.DestAddress),
		Expiry:      expiry,
	})
	if err != nil {
		return nil, err
	}
	if receipt == nil || !receipt.Status {
		txHash := ""
		if receipt != nil {
			txHash = receipt.TxHash
		}
		return nil, fmt.Errorf("%w: tx %s reverted on %s", ErrPayoutFailed, txHash, target.Name)
	}
	return receipt, nil
}

func (r *Relayer) operation(ev types.DepositEvent, m *types.Memo, status string) *types.RelayOperation {
	amount := ""
	if ev.Amount != nil {
		amount = ev.Amount.String()
	}
	return &types.RelayOperation{
		Status:       status,
		SourceChain:  ev.SourceChain,
		DestChain:    m.ChainDestination,
		TsFound:      r.now().Unix(),
		Amount:       amount,
		DestAddress:  m.DestAddress,
		Memo:         ev.Memo,
		SourceTxHash: ev.TxHash,
	}
}

// journal failures are logged and never change the relay outcome
func (r *Relayer) record(logger *zap.Logger, op *types.RelayOperation, prevStatus string) {
	if r.journal == nil {
		return
	}
	var err error
	if prevStatus == "" {
		err = r.journal.UpsertRelayOperation(op)
	} else {
		err = r.journal.ChangeRelayOperationStatus(op, prevStatus)
	}
	if err != nil {
		logger.Warn("cannot journal relay operation", zap.String("status", op.Status), zap.Error(err))
	}
}
