package domain

import "github.com/shopspring/decimal"

// Allocation is an opaque reference to a ledger contract authorising a
// single future transfer (spec §3, Entity: Allocation; spec §GLOSSARY).
// The core never inspects its fields beyond what is needed to call
// executeAllocation/withdrawAllocation on it.
type Allocation struct {
	ContractID string
	Sender     string
	Executor   string
	Asset      string
	Amount     decimal.Decimal
	Executed   bool
}
