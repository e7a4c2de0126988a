package feed

import (
	"encoding/json"

	"github.com/mailru/easyjson/jlexer"
)

// wireStreamEnvelope is the outer frame on the combined-stream
// connection: {"stream":"<name>","data":{...}}. The inner payload is
// left as raw bytes so it can be routed to the right decoder by the
// stream-name suffix before being parsed.
type wireStreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// wireFields tracks which JSON keys were actually present in a
// decoded payload, since an absent key and a key present with its
// zero value are indistinguishable once UnmarshalEasyJSON has only
// set the Go struct field itself. Each UnmarshalEasyJSON sets the bit
// for a key the moment its case fires; parser.go then checks the
// required set against seen before trusting the struct.
type wireFields uint16

const (
	fieldEventType wireFields = 1 << iota
	fieldEventTime
	fieldSymbol
	fieldFirstUpdateID
	fieldFinalUpdateID
	fieldPrevFinalUpdateID
	fieldBids
	fieldAsks
	fieldAggTradeID
	fieldPrice
	fieldQty
	fieldFirstTradeID
	fieldLastTradeID
	fieldTradeTime
	fieldIsBuyerMaker
)

const depthRequiredFields = fieldEventType | fieldEventTime | fieldSymbol |
	fieldFirstUpdateID | fieldFinalUpdateID | fieldPrevFinalUpdateID | fieldBids | fieldAsks

const aggTradeRequiredFields = fieldEventType | fieldEventTime | fieldSymbol | fieldAggTradeID |
	fieldPrice | fieldQty | fieldFirstTradeID | fieldLastTradeID | fieldTradeTime | fieldIsBuyerMaker

// fieldNames maps a single missing bit to the wire key a caller should
// report in a ParseError. Checked one bit at a time in field order, so
// the first field missing from the payload is the one reported.
var fieldNames = []struct {
	bit wireFields
	key string
}{
	{fieldEventType, "e"},
	{fieldEventTime, "E"},
	{fieldSymbol, "s"},
	{fieldFirstUpdateID, "U"},
	{fieldFinalUpdateID, "u"},
	{fieldPrevFinalUpdateID, "pu"},
	{fieldBids, "b"},
	{fieldAsks, "a"},
	{fieldAggTradeID, "a"},
	{fieldPrice, "p"},
	{fieldQty, "q"},
	{fieldFirstTradeID, "f"},
	{fieldLastTradeID, "l"},
	{fieldTradeTime, "T"},
	{fieldIsBuyerMaker, "m"},
}

// firstMissingField reports the wire key of the first required bit not
// set in seen, in field-declaration order.
func firstMissingField(seen, required wireFields) string {
	for _, f := range fieldNames {
		if required&f.bit != 0 && seen&f.bit == 0 {
			return f.key
		}
	}
	return ""
}

// wireDepthUpdate is the venue's incremental depth diff payload. Bid
// and ask levels arrive as [price, qty] string pairs.
type wireDepthUpdate struct {
	EventType         string
	EventTimeMs       int64
	Symbol            string
	FirstUpdateID     uint64
	FinalUpdateID     uint64
	PrevFinalUpdateID uint64
	Bids              [][2]string
	Asks              [][2]string
	seen              wireFields
}

// wireAggTrade is the venue's aggregated-trade payload.
type wireAggTrade struct {
	EventType    string
	EventTimeMs  int64
	Symbol       string
	AggTradeID   uint64
	Price        string
	Qty          string
	FirstTradeID uint64
	LastTradeID  uint64
	TradeTimeMs  int64
	IsBuyerMaker bool
	seen         wireFields
}

// wireDepthSnapshot is the venue's REST depth-snapshot response.
// Decoded with the standard library: one per resync, not hot enough
// to justify a hand-rolled decoder.
type wireDepthSnapshot struct {
	LastUpdateID uint64      `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// UnmarshalEasyJSON decodes a wireDepthUpdate directly off the lexer,
// avoiding the reflection-driven path encoding/json would otherwise
// take on the highest-frequency message kind the feed receives.
func (v *wireDepthUpdate) UnmarshalEasyJSON(l *jlexer.Lexer) {
	if l.IsNull() {
		l.Skip()
		return
	}
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		if l.IsNull() {
			l.Skip()
			l.WantComma()
			continue
		}
		switch key {
		case "e":
			v.EventType = l.String()
			v.seen |= fieldEventType
		case "E":
			v.EventTimeMs = l.Int64()
			v.seen |= fieldEventTime
		case "s":
			v.Symbol = l.String()
			v.seen |= fieldSymbol
		case "U":
			v.FirstUpdateID = l.Uint64()
			v.seen |= fieldFirstUpdateID
		case "u":
			v.FinalUpdateID = l.Uint64()
			v.seen |= fieldFinalUpdateID
		case "pu":
			v.PrevFinalUpdateID = l.Uint64()
			v.seen |= fieldPrevFinalUpdateID
		case "b":
			v.Bids = decodeLevelPairs(l, v.Bids)
			v.seen |= fieldBids
		case "a":
			v.Asks = decodeLevelPairs(l, v.Asks)
			v.seen |= fieldAsks
		default:
			l.SkipRecursive()
		}
		l.WantComma()
	}
	l.Delim('}')
}

// UnmarshalEasyJSON decodes a wireAggTrade directly off the lexer.
func (v *wireAggTrade) UnmarshalEasyJSON(l *jlexer.Lexer) {
	if l.IsNull() {
		l.Skip()
		return
	}
	l.Delim('{')
	for !l.IsDelim('}') {
		key := l.UnsafeFieldName(false)
		l.WantColon()
		if l.IsNull() {
			l.Skip()
			l.WantComma()
			continue
		}
		switch key {
		case "e":
			v.EventType = l.String()
			v.seen |= fieldEventType
		case "E":
			v.EventTimeMs = l.Int64()
			v.seen |= fieldEventTime
		case "s":
			v.Symbol = l.String()
			v.seen |= fieldSymbol
		case "a":
			v.AggTradeID = l.Uint64()
			v.seen |= fieldAggTradeID
		case "p":
			v.Price = l.String()
			v.seen |= fieldPrice
		case "q":
			v.Qty = l.String()
			v.seen |= fieldQty
		case "f":
			v.FirstTradeID = l.Uint64()
			v.seen |= fieldFirstTradeID
		case "l":
			v.LastTradeID = l.Uint64()
			v.seen |= fieldLastTradeID
		case "T":
			v.TradeTimeMs = l.Int64()
			v.seen |= fieldTradeTime
		case "m":
			v.IsBuyerMaker = l.Bool()
			v.seen |= fieldIsBuyerMaker
		default:
			l.SkipRecursive()
		}
		l.WantComma()
	}
	l.Delim('}')
}

// decodeLevelPairs decodes a JSON array of [price, qty] string pairs,
// appending into dst after truncating it to length zero, so a caller
// that passes a previously filled slice gets its backing array reused.
func decodeLevelPairs(l *jlexer.Lexer, dst [][2]string) [][2]string {
	dst = dst[:0]
	l.Delim('[')
	for !l.IsDelim(']') {
		var pair [2]string
		l.Delim('[')
		pair[0] = l.String()
		l.WantComma()
		pair[1] = l.String()
		l.WantComma()
		l.Delim(']')
		dst = append(dst, pair)
		l.WantComma()
	}
	l.Delim(']')
	return dst
}

// UnmarshalJSON implements json.Unmarshaler by delegating to
// UnmarshalEasyJSON, so callers higher up can use either
// encoding/json or the direct easyjson entry points interchangeably.
func (v *wireDepthUpdate) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	v.UnmarshalEasyJSON(&l)
	return l.Error()
}

// UnmarshalJSON implements json.Unmarshaler by delegating to
// UnmarshalEasyJSON.
func (v *wireAggTrade) UnmarshalJSON(data []byte) error {
	l := jlexer.Lexer{Data: data}
	v.UnmarshalEasyJSON(&l)
	return l.Error()
}
