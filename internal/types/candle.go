// internal/types/candle.go
package types

// CandleClosedData - данные события закрытия свечи базового периода
type CandleClosedData struct {
	Symbol string `json:"symbol"`
	Period string `json:"period"`
}
