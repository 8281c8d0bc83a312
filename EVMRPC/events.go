package EVMRPC

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"crossrelay/types"
)

// logStream turns a log subscription into decoded types.Event values
type logStream struct {
	events   chan types.Event
	errC     chan error
	quit     chan struct{}
	sub      event.Subscription
	stopOnce sync.Once
}

func (s *logStream) Events() <-chan types.Event { return s.events }
func (s *logStream) Err() <-chan error          { return s.errC }

func (s *logStream) Close() {
	s.stopOnce.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
	})
}

// SubscribeAllEvents streams every log emitted by contract
func (c *Client) SubscribeAllEvents(ctx context.Context, handle types.Contract) (types.EventStream, error) {
	ct, err := c.contract(handle)
	if err != nil {
		return nil, err
	}

	logs := make(chan ethtypes.Log, 64)
	query := ethereum.FilterQuery{Addresses: []common.Address{ct.address}}
	sub, err := c.eth.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s logs: %w", ct.name, err)
	}

	s := &logStream{
		events: make(chan types.Event),
		errC:   make(chan error, 1),
		quit:   make(chan struct{}),
		sub:    sub,
	}
	go s.run(ct.abi, logs, c.logger.With(zap.String("contract", ct.name)))
	return s, nil
}

func (s *logStream) run(contractABI abi.ABI, logs <-chan ethtypes.Log, logger *zap.Logger) {
	defer close(s.events)
	for {
		select {
		case <-s.quit:
			return
		case err := <-s.sub.Err():
			if err != nil {
				s.errC <- err
			}
			return
		case l := <-logs:
			if l.Removed {
				logger.Debug("skipping removed log", zap.String("tx", l.TxHash.Hex()))
				continue
			}
			ev, err := decodeLog(contractABI, l)
			if err != nil {
				logger.Warn("cannot decode log", zap.String("tx", l.TxHash.Hex()), zap.Error(err))
			}
			select {
			case s.events <- ev:
			case <-s.quit:
				return
			}
		}
	}
}

// decodeLog names a log after its abi event and unpacks indexed and data fields.
// Logs of unknown events come back with an empty name.
func decodeLog(contractABI abi.ABI, l ethtypes.Log) (types.Event, error) {
	ev := types.Event{
		ReturnValues: make(map[string]interface{}),
		TxHash:       l.TxHash.Hex(),
		BlockNumber:  l.BlockNumber,
	}
	if len(l.Topics) == 0 {
		return ev, nil
	}

	abiEvent, err := contractABI.EventByID(l.Topics[0])
	if err != nil {
		return ev, nil
	}
	ev.Name = abiEvent.Name

	if len(l.Data) > 0 {
		if err := contractABI.UnpackIntoMap(ev.ReturnValues, abiEvent.Name, l.Data); err != nil {
			return ev, fmt.Errorf("unpacking %s data: %w", abiEvent.Name, err)
		}
	}

	var indexed abi.Arguments
	for _, arg := range abiEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(ev.ReturnValues, indexed, l.Topics[1:]); err != nil {
		return ev, fmt.Errorf("parsing %s topics: %w", abiEvent.Name, err)
	}
	return ev, nil
}
