package sqldb_test

import (
	"context"
	"testing"

	"alertengine/internal/indicator"
	"alertengine/pkg/storage/sqldb"
)

// go test -v --run TestDefinitionsRoundTrip
func TestDefinitionsRoundTrip(t *testing.T) {
	store := sqldb.NewAlertStore(openTestClient(t))
	ctx := context.Background()

	sma := indicator.Definition{Base: "sma", Params: indicator.Params{{Name: "period", Value: 2}}}
	macd := indicator.Definition{Base: "macd", Params: indicator.Params{{Name: "fast", Value: 8}, {Name: "slow", Value: 21}}}
	for _, def := range []indicator.Definition{sma, macd, sma} {
		if err := store.SaveDefinition(ctx, def); err != nil {
			t.Fatalf("save %s failed: %v", def.Name(), err)
		}
	}

	defs, err := store.ListDefinitions(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %+v", defs)
	}
	byName := make(map[string]indicator.Definition)
	for _, d := range defs {
		byName[d.Name()] = d
	}
	got, ok := byName[macd.Name()]
	if !ok || got.Base != "macd" || len(got.Params) != 2 || got.Params[1] != (indicator.Param{Name: "slow", Value: 21}) {
		t.Errorf("unexpected macd definition %+v", got)
	}
	if got, ok := byName["sma_2"]; !ok || len(got.Params) != 1 || got.Params[0].Value != 2 {
		t.Errorf("unexpected sma definition %+v", got)
	}
}
