package feed

import (
	"errors"
	"testing"

	"feedengine/internal/domain"
)

func TestClassifyStream(t *testing.T) {
	cases := map[string]StreamKind{
		"btcusdt@depth@100ms": StreamDepth,
		"btcusdt@aggTrade":    StreamAggTrade,
		"btcusdt@ticker":      StreamUnknown,
	}
	for name, want := range cases {
		if got := ClassifyStream(name); got != want {
			t.Errorf("ClassifyStream(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":123}}`)
	stream, data, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stream != "btcusdt@aggTrade" {
		t.Errorf("stream = %q", stream)
	}
	if len(data) == 0 {
		t.Error("expected non-empty inner data")
	}
}

func TestParseEnvelope_Malformed(t *testing.T) {
	_, _, err := ParseEnvelope([]byte(`not json`))
	if err == nil {
		t.Fatal("expected ParseError for malformed envelope")
	}
}

func TestParseDepthUpdate_Valid(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":123456789,"s":"BTCUSDT","U":157,"u":160,"pu":156,
		"b":[["0.0024","10"]],"a":[["0.0026","100"]]}`)

	u, err := ParseDepthUpdate(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.FirstUpdateID != 157 || u.FinalUpdateID != 160 || u.PrevFinalUpdateID != 156 {
		t.Errorf("unexpected sequence fields: %+v", u)
	}
	if len(u.Bids) != 1 || u.Bids[0].Qty != 10 {
		t.Errorf("unexpected bids: %+v", u.Bids)
	}
	if len(u.Asks) != 1 || u.Asks[0].Price.Float64() != 0.0026 {
		t.Errorf("unexpected asks: %+v", u.Asks)
	}
}

func TestParseDepthUpdate_MissingEventType(t *testing.T) {
	raw := []byte(`{"s":"BTCUSDT","U":1,"u":2,"pu":0,"b":[],"a":[]}`)
	_, err := ParseDepthUpdate(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing event type")
	}
}

func TestParseDepthUpdate_MissingFinalUpdateID(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"pu":0,"b":[],"a":[]}`)
	_, err := ParseDepthUpdate(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing u")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "u" {
		t.Errorf("ParseError.Field = %v, want %q", err, "u")
	}
}

func TestParseDepthUpdate_MissingPrevFinalUpdateID(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"b":[],"a":[]}`)
	_, err := ParseDepthUpdate(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing pu")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "pu" {
		t.Errorf("ParseError.Field = %v, want %q", err, "pu")
	}
}

func TestParseDepthUpdate_MissingFirstUpdateID(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","u":2,"pu":0,"b":[],"a":[]}`)
	_, err := ParseDepthUpdate(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing U")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "U" {
		t.Errorf("ParseError.Field = %v, want %q", err, "U")
	}
}

func TestParseDepthUpdate_MissingBidsAndAsks(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"pu":0}`)
	_, err := ParseDepthUpdate(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing b")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "b" {
		t.Errorf("ParseError.Field = %v, want %q", err, "b")
	}
}

func TestParseDepthUpdate_BadPrice(t *testing.T) {
	raw := []byte(`{"e":"depthUpdate","E":1,"s":"BTCUSDT","U":1,"u":2,"pu":0,"b":[["not-a-number","10"]],"a":[]}`)
	_, err := ParseDepthUpdate(raw)
	if err == nil {
		t.Fatal("expected ParseError for bad price field")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "b" {
		t.Errorf("ParseError.Field = %v, want %q", err, "b")
	}
}

func TestParseAggTrade_Valid(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","E":123456789,"s":"BTCUSDT","a":5933014,
		"p":"0.001","q":"100","f":100,"l":105,"T":123456785,"m":true}`)

	tr, err := ParseAggTrade(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ID != 5933014 {
		t.Errorf("ID = %d, want 5933014", tr.ID)
	}
	if tr.Price.Float64() != 0.001 {
		t.Errorf("Price = %v, want 0.001", tr.Price.Float64())
	}
	if tr.Qty != 100 {
		t.Errorf("Qty = %v, want 100", tr.Qty)
	}
	if !tr.IsBuyerMaker {
		t.Error("IsBuyerMaker should be true")
	}
	if tr.IsAggressiveBuy() {
		t.Error("IsBuyerMaker=true should not be an aggressive buy")
	}
}

func TestParseAggTrade_MissingEventType(t *testing.T) {
	raw := []byte(`{"s":"BTCUSDT","a":1,"p":"1","q":"1","T":1,"m":false}`)
	_, err := ParseAggTrade(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing event type")
	}
}

func TestParseAggTrade_MissingTradeIDs(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","E":1,"s":"BTCUSDT","a":1,"p":"1","q":"1","T":1,"m":false}`)
	_, err := ParseAggTrade(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing f")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "f" {
		t.Errorf("ParseError.Field = %v, want %q", err, "f")
	}
}

func TestParseAggTrade_MissingLastTradeID(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","E":1,"s":"BTCUSDT","a":1,"p":"1","q":"1","f":1,"T":1,"m":false}`)
	_, err := ParseAggTrade(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing l")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "l" {
		t.Errorf("ParseError.Field = %v, want %q", err, "l")
	}
}

func TestParseAggTrade_MissingTradeTime(t *testing.T) {
	raw := []byte(`{"e":"aggTrade","E":1,"s":"BTCUSDT","a":1,"p":"1","q":"1","f":1,"l":2,"m":false}`)
	_, err := ParseAggTrade(raw)
	if err == nil {
		t.Fatal("expected ParseError for missing T")
	}
	var pe *domain.ParseError
	if !errors.As(err, &pe) || pe.Field != "T" {
		t.Errorf("ParseError.Field = %v, want %q", err, "T")
	}
}

func TestParseDepthSnapshot_Valid(t *testing.T) {
	raw := []byte(`{"lastUpdateId":160,
		"bids":[["0.0024","10"]],
		"asks":[["0.0026","100"]]}`)

	s, err := ParseDepthSnapshot("BTCUSDT", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LastUpdateID != 160 {
		t.Errorf("LastUpdateID = %d, want 160", s.LastUpdateID)
	}
	if s.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q", s.Symbol)
	}
	if len(s.Bids) != 1 || len(s.Asks) != 1 {
		t.Errorf("unexpected levels: bids=%v asks=%v", s.Bids, s.Asks)
	}
}

func TestParseDepthSnapshot_Malformed(t *testing.T) {
	_, err := ParseDepthSnapshot("BTCUSDT", []byte(`{"lastUpdateId":`))
	if err == nil {
		t.Fatal("expected ParseError for truncated JSON")
	}
}
