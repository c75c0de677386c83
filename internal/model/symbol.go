package model

import "strings"

// IndexSymbol is the distinguished composite-index symbol.
const IndexSymbol = "IDX"

// SymbolMeta holds per-instrument knowledge: display name, sector, the
// plausibility range used to reject provider mis-parses, and a static
// anchor price used only as the last-resort estimate base.
type SymbolMeta struct {
	Symbol      string
	DisplayName string
	Sector      string
	PlausibleLo float64
	PlausibleHi float64
	Anchor      float64
}

// symbolTable is versioned with the code. Anchors are symbol-level
// defaults and must never override a non-estimate quote.
var symbolTable = map[string]SymbolMeta{
	IndexSymbol: {Symbol: IndexSymbol, DisplayName: "Composite Index", Sector: "index", PlausibleLo: 80000, PlausibleHi: 150000, Anchor: 128000},
	"BBCA":      {Symbol: "BBCA", DisplayName: "Bank Central Asia", Sector: "banking", PlausibleLo: 5000, PlausibleHi: 16000, Anchor: 9500},
	"BBRI":      {Symbol: "BBRI", DisplayName: "Bank Rakyat", Sector: "banking", PlausibleLo: 2500, PlausibleHi: 8000, Anchor: 4600},
	"BMRI":      {Symbol: "BMRI", DisplayName: "Bank Mandiri", Sector: "banking", PlausibleLo: 3000, PlausibleHi: 9000, Anchor: 5800},
	"TLKM":      {Symbol: "TLKM", DisplayName: "Telkom", Sector: "telecom", PlausibleLo: 1800, PlausibleHi: 5500, Anchor: 3100},
	"ASII":      {Symbol: "ASII", DisplayName: "Astra International", Sector: "automotive", PlausibleLo: 3500, PlausibleHi: 8500, Anchor: 5100},
	"UNVR":      {Symbol: "UNVR", DisplayName: "Unilever", Sector: "consumer", PlausibleLo: 1500, PlausibleHi: 6000, Anchor: 2700},
	"ICBP":      {Symbol: "ICBP", DisplayName: "Indofood CBP", Sector: "consumer", PlausibleLo: 7000, PlausibleHi: 14000, Anchor: 10500},
	"GOTO":      {Symbol: "GOTO", DisplayName: "GoTo Gojek Tokopedia", Sector: "technology", PlausibleLo: 40, PlausibleHi: 400, Anchor: 85},
	"ANTM":      {Symbol: "ANTM", DisplayName: "Aneka Tambang", Sector: "mining", PlausibleLo: 1000, PlausibleHi: 4000, Anchor: 1700},
	"PGAS":      {Symbol: "PGAS", DisplayName: "Perusahaan Gas Negara", Sector: "energy", PlausibleLo: 900, PlausibleHi: 2500, Anchor: 1500},
}

// LookupSymbol resolves a symbol against the static table. Matching is
// case-insensitive; the bool is false for unknown symbols.
func LookupSymbol(symbol string) (SymbolMeta, bool) {
	meta, ok := symbolTable[strings.ToUpper(strings.TrimSpace(symbol))]
	return meta, ok
}

// KnownSymbols returns all symbols in the static table.
func KnownSymbols() []string {
	out := make([]string, 0, len(symbolTable))
	for s := range symbolTable {
		out = append(out, s)
	}
	return out
}

// Plausible reports whether price falls strictly inside the range.
func (m SymbolMeta) Plausible(price float64) bool {
	return price > m.PlausibleLo && price < m.PlausibleHi
}
