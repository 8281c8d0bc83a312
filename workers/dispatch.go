package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crossrelay/types"
)

// DepositHandler is what the dispatcher hands Deposit events to
type DepositHandler interface {
	RelayDeposit(ctx context.Context, ev types.DepositEvent) Outcome
}

// Dispatcher runs one task per chain stream and routes each event by name.
// Events of one chain are handled in stream order; chains do not wait on each other.
type Dispatcher struct {
	handler DepositHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

func NewDispatcher(ctx context.Context, handler DepositHandler, logger *zap.Logger) *Dispatcher {
	ctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		handler: handler,
		logger:  logger.With(zap.String("component", "dispatch")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Attach starts consuming stream on behalf of chain
func (d *Dispatcher) Attach(chain string, stream types.EventStream) {
	d.group.Go(func() error {
		return d.consume(chain, stream)
	})
}

// Close cancels every chain task and waits for them; returns the first stream error
func (d *Dispatcher) Close() error {
	d.cancel()
	return d.group.Wait()
}

// Wait blocks until every chain task ended
func (d *Dispatcher) Wait() error {
	return d.group.Wait()
}

func (d *Dispatcher) consume(chain string, stream types.EventStream) error {
	defer stream.Close()
	logger := d.logger.With(zap.String("chain", chain))
	logger.Info("dispatching chain events")

	for {
		select {
		case <-d.ctx.Done():
			logger.Info("chain dispatch stopped")
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				select {
				case err := <-stream.Err():
					logger.Error("chain event stream failed", zap.Error(err))
					return fmt.Errorf("%s event stream: %w", chain, err)
				default:
					logger.Info("chain event stream ended")
					return nil
				}
			}
			d.OnEvent(d.ctx, ev, chain)
		}
	}
}

// OnEvent routes a single event emitted on chain
func (d *Dispatcher) OnEvent(ctx context.Context, ev types.Event, chain string) {
	logger := d.logger.With(zap.String("chain", chain), zap.String("event", ev.Name), zap.String("tx", ev.TxHash))
	eventsReceived.WithLabelValues(chain, ev.Name).Inc()

	switch ev.Name {
	case types.EventDeposit:
		deposit, err := depositFromEvent(chain, ev)
		if err != nil {
			logger.Warn("cannot read deposit event", zap.Error(err))
			return
		}
		logger.Info("deposit", zap.String("memo", deposit.Memo))
		d.handler.RelayDeposit(ctx, deposit)
	case types.EventPayOut:
		// no handling necessary, payout has happened
		values, _ := json.Marshal(ev.ReturnValues)
		logger.Info("payout", zap.ByteString("values", values))
	default:
		logger.Warn("unexpected event")
	}
}

func depositFromEvent(chain string, ev types.Event) (types.DepositEvent, error) {
	deposit := types.DepositEvent{SourceChain: chain, TxHash: ev.TxHash}

	memoText, ok := ev.ReturnValues["memo"].(string)
	if !ok {
		return deposit, errors.New("deposit without memo")
	}
	deposit.Memo = memoText

	asset, err := addressValue(ev.ReturnValues["asset"])
	if err != nil {
		return deposit, fmt.Errorf("asset: %w", err)
	}
	deposit.Asset = asset

	amount, err := amountValue(ev.ReturnValues["amount"])
	if err != nil {
		return deposit, fmt.Errorf("amount: %w", err)
	}
	deposit.Amount = amount

	if from, err := addressValue(ev.ReturnValues["from"]); err == nil {
		deposit.From = from
	}
	return deposit, nil
}

func addressValue(v interface{}) (string, error) {
	switch a := v.(type) {
	case common.Address:
		return a.Hex(), nil
	case string:
		return a, nil
	case nil:
		return "", errors.New("missing")
	}
	return "", fmt.Errorf("unexpected type %T", v)
}

func amountValue(v interface{}) (*big.Int, error) {
	switch a := v.(type) {
	case *big.Int:
		return new(big.Int).Set(a), nil
	case string:
		n, ok := new(big.Int).SetString(a, 0)
		if !ok {
			return nil, fmt.Errorf("%q is not a number", a)
		}
		return n, nil
	case int64:
		return big.NewInt(a), nil
	case int:
		return big.NewInt(int64(a)), nil
	case nil:
		return nil, errors.New("missing")
	}
	return nil, fmt.Errorf("unexpected type %T", v)
}
