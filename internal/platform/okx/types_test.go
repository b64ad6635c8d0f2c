package okx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
)

func TestParseLevels(t *testing.T) {
	levels, err := parseLevels([][]string{
		{"100.10", "2", "0", "4"},
		{"100.20", "0"},
	})
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, domain.PriceLevel{Price: 100.10, Quantity: 2}, levels[0])
	assert.Equal(t, domain.PriceLevel{Price: 100.20, Quantity: 0}, levels[1])
}

func TestParseLevelsMalformed(t *testing.T) {
	_, err := parseLevels([][]string{{"100.10"}})
	assert.Error(t, err)

	_, err = parseLevels([][]string{{"not-a-price", "2"}})
	assert.Error(t, err)

	_, err = parseLevels([][]string{{"100.10", "lots"}})
	assert.Error(t, err)
}

func TestToUpdateSnapshot(t *testing.T) {
	raw := `{
		"arg": {"channel": "books", "instId": "BTC-USDT"},
		"action": "snapshot",
		"data": [{
			"asks": [["100.10", "2", "0", "1"], ["100.20", "5", "0", "1"]],
			"bids": [["100.00", "3", "0", "1"]],
			"ts": "1700000000000",
			"seqId": 42
		}]
	}`
	var msg wsMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	received := time.Now()
	u, err := msg.toUpdate(received)
	require.NoError(t, err)

	assert.Equal(t, domain.UpdateSnapshot, u.Type)
	assert.Equal(t, uint64(42), u.Sequence)
	assert.Equal(t, time.UnixMilli(1700000000000), u.Timestamp)
	assert.Equal(t, received, u.Received)
	require.Len(t, u.Asks, 2)
	assert.Equal(t, domain.PriceLevel{Price: 100.10, Quantity: 2}, u.Asks[0])
	require.Len(t, u.Bids, 1)
	assert.Equal(t, domain.PriceLevel{Price: 100.00, Quantity: 3}, u.Bids[0])
}

func TestToUpdateDiff(t *testing.T) {
	raw := `{
		"arg": {"channel": "books", "instId": "BTC-USDT"},
		"action": "update",
		"data": [{
			"asks": [["100.10", "0"]],
			"bids": [],
			"ts": "1700000001000",
			"seqId": 43,
			"prevSeqId": 42
		}]
	}`
	var msg wsMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	u, err := msg.toUpdate(time.Now())
	require.NoError(t, err)

	assert.Equal(t, domain.UpdateDiff, u.Type)
	assert.Equal(t, uint64(43), u.Sequence)
	require.Len(t, u.Asks, 1)
	assert.Zero(t, u.Asks[0].Quantity)
	assert.Empty(t, u.Bids)
}

func TestToUpdateMissingActionIsSnapshot(t *testing.T) {
	msg := wsMessage{Data: []bookData{{SeqID: 7}}}
	u, err := msg.toUpdate(time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.UpdateSnapshot, u.Type)
}

func TestToUpdateBadTimestampFallsBack(t *testing.T) {
	received := time.Now()
	msg := wsMessage{
		Action: "update",
		Data:   []bookData{{Ts: "garbage", SeqID: 9}},
	}
	u, err := msg.toUpdate(received)
	require.NoError(t, err)
	assert.Equal(t, received, u.Timestamp)
}

func TestToUpdateEmptyPayload(t *testing.T) {
	_, err := wsMessage{Action: "snapshot"}.toUpdate(time.Now())
	assert.Error(t, err)
}

func TestToUpdateMalformedLevels(t *testing.T) {
	msg := wsMessage{
		Action: "update",
		Data:   []bookData{{Bids: [][]string{{"x", "y"}}, SeqID: 3}},
	}
	_, err := msg.toUpdate(time.Now())
	assert.Error(t, err)
}

func TestSubscribeCommandShape(t *testing.T) {
	cmd := wsCommand{
		Op:   "subscribe",
		Args: []wsArg{{Channel: "books", InstID: "BTC-USDT"}},
	}
	raw, err := json.Marshal(cmd)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT"}]}`,
		string(raw),
	)
}
