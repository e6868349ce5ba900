package exchange

import (
	"strings"

	"github.com/shopspring/decimal"

	"kraken-adaptive/pkg/types"
)

// The exchange keys responses by its internal pair notation, which
// prefixes legacy assets with X (crypto) or Z (fiat): a request for
// XBTUSD comes back keyed XXBTZUSD. pairKeyCandidates generates the
// spellings a configured pair may appear under.

// legacyBases maps configured base assets to their X-prefixed form.
var legacyBases = map[string]string{
	"XBT": "XXBT",
	"ETH": "XETH",
	"XRP": "XXRP",
	"XMR": "XXMR",
	"LTC": "XLTC",
	"XLM": "XXLM",
	"ZEC": "XZEC",
}

// legacyQuotes maps configured quote currencies to their Z-prefixed form.
var legacyQuotes = map[string]string{
	"USD": "ZUSD",
	"EUR": "ZEUR",
	"GBP": "ZGBP",
	"JPY": "ZJPY",
	"CAD": "ZCAD",
	"AUD": "ZAUD",
}

// splitPair separates a configured pair into base and quote by matching
// a known quote suffix. Longer quotes are tried first so XBTUSDT does
// not split as XBT/USD.
func splitPair(pair string) (base, quote string, ok bool) {
	for _, q := range []string{"USDT", "USDC", "ZUSD", "ZEUR", "USD", "EUR", "GBP", "JPY", "CAD", "AUD", "XBT", "ETH"} {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return pair[:len(pair)-len(q)], q, true
		}
	}
	return "", "", false
}

// pairKeyCandidates returns the response keys a configured pair may
// appear under, most specific first. The configured spelling itself is
// always first.
func pairKeyCandidates(pair string) []string {
	out := []string{pair}
	base, quote, ok := splitPair(pair)
	if !ok {
		return out
	}

	bases := []string{base}
	if alt, found := legacyBases[base]; found {
		bases = append(bases, alt)
	}
	quotes := []string{quote}
	if alt, found := legacyQuotes[quote]; found {
		quotes = append(quotes, alt)
	}

	for _, b := range bases {
		for _, q := range quotes {
			if b+q != pair {
				out = append(out, b+q)
			}
		}
	}
	return out
}

// matchPairKey finds the response key for a configured pair: the exact
// spelling, then the legacy-prefixed candidates, then (for single-pair
// responses) the only key present.
func matchPairKey[V any](result map[string]V, pair string) (string, bool) {
	for _, cand := range pairKeyCandidates(pair) {
		if _, ok := result[cand]; ok {
			return cand, true
		}
	}
	if len(result) == 1 {
		for k := range result {
			return k, true
		}
	}
	return "", false
}

// pairInfo is the exchange's validation metadata for one pair, as
// returned by the AssetPairs endpoint. Optional fields are omitted for
// some pairs.
type pairInfo struct {
	Altname      string  `json:"altname"`
	LotDecimals  int     `json:"lot_decimals"`
	PairDecimals int     `json:"pair_decimals"`
	TickSize     *string `json:"tick_size"`
	OrderMin     *string `json:"ordermin"`
	CostMin      *string `json:"costmin"`
}

// rulesFromInfo converts wire metadata into AssetPairRules, dropping
// optional fields that fail to parse.
func rulesFromInfo(info pairInfo) types.AssetPairRules {
	rules := types.AssetPairRules{
		LotDecimals:  info.LotDecimals,
		PairDecimals: info.PairDecimals,
	}
	rules.TickSize = parseOptionalDecimal(info.TickSize)
	rules.OrderMin = parseOptionalDecimal(info.OrderMin)
	rules.CostMin = parseOptionalDecimal(info.CostMin)
	return rules
}

func parseOptionalDecimal(s *string) *decimal.Decimal {
	if s == nil || *s == "" {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

// findPairInfo matches the AssetPairs response onto a configured pair,
// also honoring the altname field the key candidates cannot cover.
func findPairInfo(result map[string]pairInfo, pair string) (pairInfo, bool) {
	if key, ok := matchPairKey(result, pair); ok {
		return result[key], true
	}
	for _, info := range result {
		if info.Altname == pair {
			return info, true
		}
	}
	return pairInfo{}, false
}
