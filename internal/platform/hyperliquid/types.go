package hyperliquid

import (
	"encoding/json"
	"strconv"
)

// wsCommand is the subscribe/unsubscribe envelope sent to the venue.
type wsCommand struct {
	Method       string        `json:"method"`
	Subscription *subscription `json:"subscription,omitempty"`
}

// subscription selects one feed stream. Coin is only set for per-asset
// streams such as activeAssetCtx.
type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin,omitempty"`
}

// wsEnvelope is the outer shape of every message the venue sends.
type wsEnvelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// midsMessage carries the latest mid price for every listed asset. The venue
// serializes prices as decimal strings to avoid float truncation.
type midsMessage struct {
	Mids map[string]string `json:"mids"`
}

// assetCtxMessage carries the per-asset derivative context: mark price and
// the current funding rate for the perp on that coin.
type assetCtxMessage struct {
	Coin string `json:"coin"`
	Ctx  struct {
		MarkPx  string `json:"markPx"`
		MidPx   string `json:"midPx"`
		Funding string `json:"funding"`
	} `json:"ctx"`
}

// parsePx parses a venue decimal string, returning 0 and false on garbage.
func parsePx(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
