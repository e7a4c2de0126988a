package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mailru/easyjson/jlexer"
	"github.com/shopspring/decimal"

	"feedengine/internal/domain"
	"feedengine/pkg/fixed"
)

// StreamKind classifies a combined-stream frame by its stream-name
// suffix.
type StreamKind int

const (
	StreamUnknown StreamKind = iota
	StreamDepth
	StreamAggTrade
)

// ClassifyStream inspects a stream name of the form
// "<symbol>@depth@100ms" or "<symbol>@aggTrade" and reports its kind.
func ClassifyStream(streamName string) StreamKind {
	switch {
	case strings.Contains(streamName, "@depth"):
		return StreamDepth
	case strings.Contains(streamName, "@aggTrade"):
		return StreamAggTrade
	default:
		return StreamUnknown
	}
}

// ParseEnvelope splits the outer combined-stream frame into its stream
// name and inner data payload. A malformed envelope is a ParseError,
// never a panic — the connection stays up and the caller drops the
// frame.
func ParseEnvelope(raw []byte) (string, []byte, error) {
	var env wireStreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, &domain.ParseError{MessageKind: "envelope", Field: "stream", Err: err}
	}
	return env.Stream, env.Data, nil
}

// ParseDepthUpdate decodes the inner payload of a "<symbol>@depth"
// frame into a domain.DepthUpdate, validating that every required
// field was present.
func ParseDepthUpdate(data []byte) (*domain.DepthUpdate, error) {
	var w wireDepthUpdate
	l := jlexer.Lexer{Data: data}
	w.UnmarshalEasyJSON(&l)
	if err := l.Error(); err != nil {
		return nil, &domain.ParseError{MessageKind: "depth_update", Field: "body", Err: err}
	}
	if missing := firstMissingField(w.seen, depthRequiredFields); missing != "" {
		return nil, &domain.ParseError{MessageKind: "depth_update", Field: missing, Err: errMissingField}
	}

	bids, err := parseLevels(w.Bids)
	if err != nil {
		return nil, &domain.ParseError{MessageKind: "depth_update", Field: "b", Err: err}
	}
	asks, err := parseLevels(w.Asks)
	if err != nil {
		return nil, &domain.ParseError{MessageKind: "depth_update", Field: "a", Err: err}
	}

	return &domain.DepthUpdate{
		FirstUpdateID:     w.FirstUpdateID,
		FinalUpdateID:     w.FinalUpdateID,
		PrevFinalUpdateID: w.PrevFinalUpdateID,
		Bids:              bids,
		Asks:              asks,
	}, nil
}

// ParseAggTrade decodes the inner payload of a "<symbol>@aggTrade"
// frame into a domain.AggTrade, validating that every required field
// was present.
func ParseAggTrade(data []byte) (*domain.AggTrade, error) {
	var w wireAggTrade
	l := jlexer.Lexer{Data: data}
	w.UnmarshalEasyJSON(&l)
	if err := l.Error(); err != nil {
		return nil, &domain.ParseError{MessageKind: "agg_trade", Field: "body", Err: err}
	}
	if missing := firstMissingField(w.seen, aggTradeRequiredFields); missing != "" {
		return nil, &domain.ParseError{MessageKind: "agg_trade", Field: missing, Err: errMissingField}
	}

	price, err := fixed.Parse(w.Price)
	if err != nil {
		return nil, &domain.ParseError{MessageKind: "agg_trade", Field: "p", Err: err}
	}
	qty, err := parseDecimalQty(w.Qty)
	if err != nil {
		return nil, &domain.ParseError{MessageKind: "agg_trade", Field: "q", Err: err}
	}

	return &domain.AggTrade{
		ID:           w.AggTradeID,
		Price:        price,
		Qty:          qty,
		TradeTimeMs:  w.TradeTimeMs,
		IsBuyerMaker: w.IsBuyerMaker,
	}, nil
}

// ParseDepthSnapshot decodes a REST depth-snapshot response body into
// a domain.DepthSnapshot.
func ParseDepthSnapshot(symbol string, data []byte) (*domain.DepthSnapshot, error) {
	var w wireDepthSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &domain.ParseError{MessageKind: "snapshot", Field: "body", Err: err}
	}

	bids, err := parseLevels(w.Bids)
	if err != nil {
		return nil, &domain.ParseError{MessageKind: "snapshot", Field: "bids", Err: err}
	}
	asks, err := parseLevels(w.Asks)
	if err != nil {
		return nil, &domain.ParseError{MessageKind: "snapshot", Field: "asks", Err: err}
	}

	return &domain.DepthSnapshot{
		LastUpdateID: w.LastUpdateID,
		Symbol:       symbol,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func parseLevels(pairs [][2]string) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		price, err := fixed.Parse(pair[0])
		if err != nil {
			return nil, err
		}
		qty, err := parseDecimalQty(pair[1])
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: price, Qty: qty})
	}
	return out, nil
}

// parseDecimalQty decodes a venue quantity string through
// shopspring/decimal rather than strconv.ParseFloat directly: the wire
// format is a decimal string, and decimal.NewFromString rejects the
// malformed forms (trailing garbage, multiple signs) that ParseFloat's
// looser grammar would otherwise let through silently.
func parseDecimalQty(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.InexactFloat64(), nil
}

var errMissingField = fmt.Errorf("required field missing")
