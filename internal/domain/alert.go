package domain

// AlertEvent is an append-only strategy signal ingested by the webhook path.
// Timestamp is epoch milliseconds, as delivered by the signal source. The
// strategy metadata is opaque to the matching logic, which only ever reads
// Symbol, Side, and Timestamp.
type AlertEvent struct {
	ID        int64
	Symbol    string
	Side      string // "BUY"/"SELL", may be empty for direction-neutral signals
	Timestamp int64  // epoch millis

	Tier            string
	Strength        float64
	EntryPrice      float64
	StopLoss        float64
	TakeProfit1     float64
	TakeProfit2     float64
	TakeProfit3     float64
	ATR             float64
	VolumeRatio     float64
	Session         string
	Regime          string
	RegimeStrength  float64
	Leverage        float64
	OrderBlock      bool
	OrderBlockScore float64
	FVG             bool
	FVGScore        float64
	InstFlow        bool
	LatencyMs       int64
}

// AlertPayload is the fixed subset of alert fields serialized onto a history
// record when a match is found. JSON tags define the stored wire shape; the
// struct is what core logic passes around.
type AlertPayload struct {
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side,omitempty"`
	Tier            string  `json:"tier,omitempty"`
	Strength        float64 `json:"strength,omitempty"`
	EntryPrice      float64 `json:"entry_price,omitempty"`
	StopLoss        float64 `json:"stop_loss,omitempty"`
	TakeProfit1     float64 `json:"take_profit_1,omitempty"`
	TakeProfit2     float64 `json:"take_profit_2,omitempty"`
	TakeProfit3     float64 `json:"take_profit_3,omitempty"`
	ATR             float64 `json:"atr,omitempty"`
	VolumeRatio     float64 `json:"volume_ratio,omitempty"`
	Session         string  `json:"session,omitempty"`
	Regime          string  `json:"regime,omitempty"`
	RegimeStrength  float64 `json:"regime_strength,omitempty"`
	Leverage        float64 `json:"leverage,omitempty"`
	OrderBlock      bool    `json:"order_block,omitempty"`
	OrderBlockScore float64 `json:"order_block_score,omitempty"`
	FVG             bool    `json:"fvg,omitempty"`
	FVGScore        float64 `json:"fvg_score,omitempty"`
	InstFlow        bool    `json:"institutional_flow,omitempty"`
	LatencyMs       int64   `json:"latency_ms,omitempty"`
}

// Payload extracts the storable subset of an alert event.
func (a *AlertEvent) Payload() AlertPayload {
	return AlertPayload{
		Symbol:          a.Symbol,
		Side:            a.Side,
		Tier:            a.Tier,
		Strength:        a.Strength,
		EntryPrice:      a.EntryPrice,
		StopLoss:        a.StopLoss,
		TakeProfit1:     a.TakeProfit1,
		TakeProfit2:     a.TakeProfit2,
		TakeProfit3:     a.TakeProfit3,
		ATR:             a.ATR,
		VolumeRatio:     a.VolumeRatio,
		Session:         a.Session,
		Regime:          a.Regime,
		RegimeStrength:  a.RegimeStrength,
		Leverage:        a.Leverage,
		OrderBlock:      a.OrderBlock,
		OrderBlockScore: a.OrderBlockScore,
		FVG:             a.FVG,
		FVGScore:        a.FVGScore,
		InstFlow:        a.InstFlow,
		LatencyMs:       a.LatencyMs,
	}
}
