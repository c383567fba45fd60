package bybit

// Response envelopes for the Bybit v5 REST API. Numeric fields arrive as
// strings and are parsed at the boundary.

type baseResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

type positionListResponse struct {
	baseResponse
	Result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"` // "Buy" / "Sell"
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
		} `json:"list"`
	} `json:"result"`
}

type tickerResponse struct {
	baseResponse
	Result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	} `json:"result"`
}

type orderCreateResponse struct {
	baseResponse
	Result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

type closedPnlResponse struct {
	baseResponse
	Result struct {
		List []struct {
			OrderID   string `json:"orderId"`
			Symbol    string `json:"symbol"`
			ClosedPnl string `json:"closedPnl"`
		} `json:"list"`
	} `json:"result"`
}
