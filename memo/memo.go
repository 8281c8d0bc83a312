package memo

import (
	"errors"
	"fmt"
	"strings"

	"crossrelay/types"
)

var ErrMalformedMemo = errors.New("malformed memo")

// Decode parses OPERATION:CHAIN.ASSET:DESTADDRESS.
// Exactly three colon fields are required and the middle one must hold exactly one dot.
// The operation is not checked here, unknown operations are left to the relay.
func Decode(text string) (*types.Memo, error) {
	fields := strings.Split(text, ":")
	if len(fields) != 3 {
		return nil, fmt.Errorf("%w: expected 3 fields, got %d in %q", ErrMalformedMemo, len(fields), text)
	}

	target := strings.Split(fields[1], ".")
	if len(target) != 2 {
		return nil, fmt.Errorf("%w: expected CHAIN.ASSET, got %q", ErrMalformedMemo, fields[1])
	}

	return &types.Memo{
		Operation:        fields[0],
		ChainDestination: target[0],
		Asset:            target[1],
		AssetLabel:       fields[1],
		DestAddress:      fields[2],
	}, nil
}

// Encode is the inverse of Decode
func Encode(m *types.Memo) string {
	return m.Operation + ":" + m.ChainDestination + "." + m.Asset + ":" + m.DestAddress
}

// payout memo written to the destination vault
func PayoutMemo(destAddress string) string {
	return "OUT:" + destAddress
}
