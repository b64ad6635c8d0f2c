package okx

import (
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// wsCommand is the client-to-server operation envelope.
type wsCommand struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

// wsArg identifies a channel subscription target.
type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// wsMessage is the server-to-client envelope. Event messages acknowledge
// subscriptions or carry errors; data messages carry book payloads.
type wsMessage struct {
	Event  string     `json:"event,omitempty"`
	Code   string     `json:"code,omitempty"`
	Msg    string     `json:"msg,omitempty"`
	Arg    wsArg      `json:"arg"`
	Action string     `json:"action,omitempty"`
	Data   []bookData `json:"data,omitempty"`
}

// bookData is a single depth payload. Levels are [price, quantity, ...]
// string tuples; a quantity of "0" deletes the level.
type bookData struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	SeqID     uint64     `json:"seqId"`
	PrevSeqID uint64     `json:"prevSeqId"`
}

// parseLevels converts raw [price, quantity] string tuples into price levels.
func parseLevels(raw [][]string) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, tuple := range raw {
		if len(tuple) < 2 {
			return nil, fmt.Errorf("okx: level tuple has %d fields", len(tuple))
		}
		price, err := strconv.ParseFloat(tuple[0], 64)
		if err != nil {
			return nil, fmt.Errorf("okx: parse price %q: %w", tuple[0], err)
		}
		qty, err := strconv.ParseFloat(tuple[1], 64)
		if err != nil {
			return nil, fmt.Errorf("okx: parse quantity %q: %w", tuple[1], err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// toUpdate converts one data payload into a typed book update.
func (m wsMessage) toUpdate(received time.Time) (domain.BookUpdate, error) {
	if len(m.Data) == 0 {
		return domain.BookUpdate{}, fmt.Errorf("okx: data message with empty payload")
	}
	d := m.Data[0]

	bids, err := parseLevels(d.Bids)
	if err != nil {
		return domain.BookUpdate{}, err
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return domain.BookUpdate{}, err
	}

	typ := domain.UpdateDiff
	if m.Action == "snapshot" || m.Action == "" {
		typ = domain.UpdateSnapshot
	}

	ts := received
	if d.Ts != "" {
		if ms, err := strconv.ParseInt(d.Ts, 10, 64); err == nil {
			ts = time.UnixMilli(ms)
		}
	}

	return domain.BookUpdate{
		Type:      typ,
		Bids:      bids,
		Asks:      asks,
		Sequence:  d.SeqID,
		Timestamp: ts,
		Received:  received,
	}, nil
}
