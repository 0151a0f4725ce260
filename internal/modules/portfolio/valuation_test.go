package portfolio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bridgebot/internal/domain"
	testingpkg "github.com/aristath/bridgebot/internal/testing"
)

var btc = domain.Crypto("BTC")

func TestRevalue(t *testing.T) {
	feed := testingpkg.NewStaticFeed(map[string]string{"ETH": "0.05", "LTC": "0.002"})
	p := domain.NewPortfolio("s",
		testingpkg.Alloc("ETH", "10", "0.4"),
		testingpkg.Alloc("LTC", "100", "0.1"),
		testingpkg.Alloc("XMR", "3", "0.3"),
		testingpkg.Alloc("BTC", "0.25", "0"),
	).WithVersion(4)

	out := Revalue(context.Background(), p, feed, btc)

	eth, _ := out.Get(domain.Crypto("ETH"))
	assert.True(t, eth.BridgeValue.Equal(testingpkg.Dec("0.5")))
	ltc, _ := out.Get(domain.Crypto("LTC"))
	assert.True(t, ltc.BridgeValue.Equal(testingpkg.Dec("0.2")))
	xmr, ok := out.Get(domain.Crypto("XMR"))
	require.True(t, ok, "unpriced holdings are kept")
	assert.True(t, xmr.BridgeValue.IsZero())
	b, _ := out.Get(btc)
	assert.True(t, b.BridgeValue.Equal(testingpkg.Dec("0.25")))
	assert.Equal(t, int64(4), out.Version)

	orig, _ := p.Get(domain.Crypto("ETH"))
	assert.True(t, orig.BridgeValue.Equal(testingpkg.Dec("0.4")), "input untouched")
}

func TestRevalue_TruncatesToScale(t *testing.T) {
	feed := testingpkg.NewStaticFeed(map[string]string{"ETH": "0.0333333333"})
	p := domain.NewPortfolio("s", testingpkg.Alloc("ETH", "3", "0"))

	out := Revalue(context.Background(), p, feed, btc)

	eth, _ := out.Get(domain.Crypto("ETH"))
	assert.Equal(t, "0.09999999", eth.BridgeValue.String())
}

func TestAUM(t *testing.T) {
	p := domain.NewPortfolio("s",
		testingpkg.Alloc("ETH", "10", "0.5"),
		testingpkg.Alloc("LTC", "-5", "-0.1"),
		testingpkg.Alloc("BTC", "0.4", "0.4"),
	)

	assert.True(t, AUM(p, btc).Equal(testingpkg.Dec("1.0")))
	assert.True(t, AUM(domain.NewPortfolio("s"), btc).IsZero())
}
