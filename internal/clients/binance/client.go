// Package binance adapts the Binance spot API to the broker, data feed and
// exchange metadata interfaces.
package binance

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/broker"
	"github.com/aristath/bridgebot/internal/domain"
)

// Config configures the Binance client
type Config struct {
	APIKey    string
	APISecret string
	// Bridge is the quote asset every symbol is traded against
	Bridge domain.Asset
	// NativeMarket sends MARKET orders. When false a MARKET request is
	// emulated with a GTC limit order at the order book's best rate.
	NativeMarket bool
	// InfoTTL is how long exchange info is cached
	InfoTTL time.Duration
	// BaseURL overrides the REST endpoint
	BaseURL string
}

// Client talks to Binance spot
type Client struct {
	api    *gobinance.Client
	bridge domain.Asset
	native bool
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger

	mu      sync.Mutex
	symbols map[string]gobinance.Symbol
	infoAt  time.Time
}

var (
	_ domain.Broker           = (*Client)(nil)
	_ domain.DataFeed         = (*Client)(nil)
	_ domain.ExchangeMetadata = (*Client)(nil)
)

// NewClient creates a Binance client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	api := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	if cfg.BaseURL != "" {
		api.BaseURL = cfg.BaseURL
	}
	if cfg.InfoTTL <= 0 {
		cfg.InfoTTL = time.Hour
	}
	return &Client{
		api:    api,
		bridge: cfg.Bridge,
		native: cfg.NativeMarket,
		ttl:    cfg.InfoTTL,
		now:    time.Now,
		log:    log.With().Str("client", "binance").Logger(),
	}
}

// Name implements domain.Broker
func (c *Client) Name() string { return "binance" }

// Symbol returns the market symbol of asset against the bridge, e.g. BTCUSDT
func (c *Client) Symbol(asset domain.Asset) string {
	return asset.Ticker + c.bridge.Ticker
}

// PlaceOrder implements domain.Broker. The sign of quantity picks the side.
func (c *Client) PlaceOrder(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, kind domain.OrderKind) (domain.OrderID, error) {
	if err := kind.Validate(); err != nil {
		return "", err
	}
	if asset == c.bridge {
		return "", domain.Reject(fmt.Errorf("cannot trade the bridge asset %s", asset))
	}

	side := domain.SideOf(quantity)
	symbol := c.Symbol(asset)
	filters, err := c.filtersFor(ctx, symbol)
	if err != nil {
		return "", domain.Reject(err)
	}
	amount := alignDown(quantity.Abs(), filters.step)
	if !amount.IsPositive() {
		return "", domain.Reject(fmt.Errorf("%s %s rounds to zero at lot step %s", quantity.Abs(), symbol, filters.step))
	}

	svc := c.api.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType(side)).
		Quantity(amount.String())

	if c.native {
		svc = svc.Type(gobinance.OrderTypeMarket)
	} else {
		signed := amount
		if side == domain.SideSell {
			signed = amount.Neg()
		}
		price, err := c.BestRate(ctx, asset, signed, side)
		if err != nil {
			return "", err
		}
		if price.IsZero() {
			return "", domain.Reject(fmt.Errorf("%w: %s %s %s", domain.ErrInsufficientLiquidity, side, amount, symbol))
		}
		// Buys round the limit up and sells round it down so it still crosses.
		if side == domain.SideBuy {
			price = alignUp(price, filters.tick)
		} else {
			price = alignDown(price, filters.tick)
		}
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeFOK).
			Price(price.String())
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return "", domain.Reject(c.apiError("create order", symbol, err))
	}
	if resp.Status != gobinance.OrderStatusTypeFilled {
		return "", domain.Reject(fmt.Errorf("order %d on %s ended %s", resp.OrderID, symbol, resp.Status))
	}

	id := domain.OrderID(strconv.FormatInt(resp.OrderID, 10))
	c.log.Info().
		Str("symbol", symbol).
		Str("side", string(side)).
		Str("quantity", amount.String()).
		Str("status", string(resp.Status)).
		Str("order_id", string(id)).
		Msg("Order placed")
	return id, nil
}

// BestRate implements domain.Broker by walking BookDepth levels of the book
func (c *Client) BestRate(ctx context.Context, asset domain.Asset, quantity decimal.Decimal, side domain.Side) (decimal.Decimal, error) {
	symbol := c.Symbol(asset)
	depth, err := c.api.NewDepthService().Symbol(symbol).Limit(broker.BookDepth).Do(ctx)
	if err != nil {
		return decimal.Zero, domain.Reject(c.apiError("depth", symbol, err))
	}

	bids := make([]domain.OrderBookLevel, 0, len(depth.Bids))
	for _, b := range depth.Bids {
		level, err := parseLevel(b.Price, b.Quantity)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad bid on %s: %w", symbol, err)
		}
		bids = append(bids, level)
	}
	asks := make([]domain.OrderBookLevel, 0, len(depth.Asks))
	for _, a := range depth.Asks {
		level, err := parseLevel(a.Price, a.Quantity)
		if err != nil {
			return decimal.Zero, fmt.Errorf("bad ask on %s: %w", symbol, err)
		}
		asks = append(asks, level)
	}

	return broker.BestRate(broker.BookSide(side, bids, asks), quantity), nil
}

// LastPrices implements domain.DataFeed. The bridge is priced at one; assets
// without a market price at zero.
func (c *Client) LastPrices(ctx context.Context, assets []domain.Asset) map[domain.Asset]decimal.Decimal {
	out := make(map[domain.Asset]decimal.Decimal, len(assets))
	for _, a := range assets {
		out[a] = decimal.Zero
		if a == c.bridge {
			out[a] = decimal.NewFromInt(1)
		}
	}

	prices, err := c.api.NewListPricesService().Do(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to fetch last prices")
		return out
	}

	bySymbol := make(map[string]string, len(prices))
	for _, p := range prices {
		bySymbol[p.Symbol] = p.Price
	}
	for _, a := range assets {
		if a == c.bridge {
			continue
		}
		raw, ok := bySymbol[c.Symbol(a)]
		if !ok {
			c.log.Debug().Str("symbol", c.Symbol(a)).Msg("No last price")
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			c.log.Warn().Err(err).Str("symbol", c.Symbol(a)).Msg("Unparseable last price")
			continue
		}
		out[a] = price
	}
	return out
}

// Tradable implements domain.ExchangeMetadata. Only cryptocurrencies with a
// TRADING market against the bridge are kept; the bridge itself always is.
func (c *Client) Tradable(ctx context.Context, assets []domain.Asset) ([]domain.Asset, error) {
	symbols, err := c.exchangeInfo(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Asset, 0, len(assets))
	for _, a := range assets {
		if a == c.bridge {
			out = append(out, a)
			continue
		}
		if !a.Kind.IsCrypto() {
			continue
		}
		if s, ok := symbols[c.Symbol(a)]; ok && s.Status == string(gobinance.SymbolStatusTypeTrading) {
			out = append(out, a)
		}
	}
	return out, nil
}

// MinOrderSize implements domain.ExchangeMetadata from the LOT_SIZE filter
func (c *Client) MinOrderSize(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	symbols, err := c.exchangeInfo(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	s, ok := symbols[c.Symbol(asset)]
	if !ok {
		return decimal.Zero, fmt.Errorf("unknown symbol %s", c.Symbol(asset))
	}
	lot := s.LotSizeFilter()
	if lot == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(lot.MinQuantity)
}

type symbolFilters struct {
	step decimal.Decimal
	tick decimal.Decimal
}

// filtersFor reads the LOT_SIZE step and PRICE_FILTER tick of symbol. A
// missing filter leaves its increment at zero, which disables alignment.
func (c *Client) filtersFor(ctx context.Context, symbol string) (symbolFilters, error) {
	symbols, err := c.exchangeInfo(ctx)
	if err != nil {
		return symbolFilters{}, err
	}
	s, ok := symbols[symbol]
	if !ok {
		return symbolFilters{}, fmt.Errorf("unknown symbol %s", symbol)
	}

	var out symbolFilters
	if lot := s.LotSizeFilter(); lot != nil && lot.StepSize != "" {
		if out.step, err = decimal.NewFromString(lot.StepSize); err != nil {
			return symbolFilters{}, fmt.Errorf("bad step size on %s: %w", symbol, err)
		}
	}
	if pf := s.PriceFilter(); pf != nil && pf.TickSize != "" {
		if out.tick, err = decimal.NewFromString(pf.TickSize); err != nil {
			return symbolFilters{}, fmt.Errorf("bad tick size on %s: %w", symbol, err)
		}
	}
	return out, nil
}

// alignDown floors v to a multiple of inc; a non-positive inc returns v
func alignDown(v, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return v
	}
	return v.Div(inc).Floor().Mul(inc)
}

func alignUp(v, inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return v
	}
	return v.Div(inc).Ceil().Mul(inc)
}

func (c *Client) exchangeInfo(ctx context.Context) (map[string]gobinance.Symbol, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.symbols != nil && c.now().Sub(c.infoAt) < c.ttl {
		return c.symbols, nil
	}

	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		if c.symbols != nil {
			c.log.Warn().Err(err).Msg("Exchange info refresh failed, serving stale copy")
			return c.symbols, nil
		}
		return nil, c.apiError("exchange info", "", err)
	}

	symbols := make(map[string]gobinance.Symbol, len(info.Symbols))
	for _, s := range info.Symbols {
		symbols[s.Symbol] = s
	}
	c.symbols = symbols
	c.infoAt = c.now()
	return symbols, nil
}

func (c *Client) apiError(op, symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("binance %s %s: code %d: %s", op, symbol, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("binance %s %s: %w", op, symbol, err)
}

func sideType(side domain.Side) gobinance.SideType {
	if side == domain.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func parseLevel(price, quantity string) (domain.OrderBookLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.OrderBookLevel{}, err
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return domain.OrderBookLevel{}, err
	}
	return domain.OrderBookLevel{Price: p, Quantity: q}, nil
}
