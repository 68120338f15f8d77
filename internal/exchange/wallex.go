package exchange

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/amirphl/strategy-engine/internal/candle"
	"github.com/amirphl/strategy-engine/internal/market"
	"github.com/amirphl/strategy-engine/internal/position"
	"github.com/amirphl/strategy-engine/internal/tfutils"
	"github.com/amirphl/strategy-engine/internal/utils"
)

type WallexConfig struct {
	APIKey string
	// Symbols holds the contract metadata of every tradable symbol; the
	// exchange API does not expose tick or lot sizes.
	Symbols        map[string]market.SymbolInfo
	QuoteAsset     string
	PollInterval   time.Duration
	HistoryCandles int
	// Paper fills orders locally at the current price instead of sending them.
	Paper bool
	// MaxFailures is the number of consecutive polling failures after which
	// subscribers are told the gateway is disconnected.
	MaxFailures int
}

// WallexGateway is a spot Gateway backed by the Wallex REST API. Prices are
// polled; stop loss and take profit are enforced locally on every tick.
type WallexGateway struct {
	Registry

	client *wallex.Client
	cfg    WallexConfig

	mu        sync.Mutex
	open      map[string]position.Position
	lastTrade map[string]time.Time
	lastTick  map[string]market.Tick
	balance   market.AccountBalance
	failures  int

	queue  chan func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWallexGateway(cfg WallexConfig) *WallexGateway {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HistoryCandles <= 0 {
		cfg.HistoryCandles = 500
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	return &WallexGateway{
		client:    wallex.New(wallex.ClientOptions{APIKey: cfg.APIKey}),
		cfg:       cfg,
		open:      make(map[string]position.Position),
		lastTrade: make(map[string]time.Time),
		lastTick:  make(map[string]market.Tick),
		queue:     make(chan func(), 256),
	}
}

func (w *WallexGateway) Name() string { return "wallex" }

// retry wraps a function with retry logic for transient errors, using exponential backoff.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		utils.GetLogger().Warnf("Exchange | Wallex retry attempt %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, time.Minute)
	}
	return fmt.Errorf("all %d attempts failed: %w", attempts, err)
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// NormalizedTimeframe converts a timeframe to the resolution the candles
// endpoint expects: minutes, or "1D" for daily candles.
func NormalizedTimeframe(timeframe string) string {
	if timeframe == "1d" {
		return "1D"
	}
	return strconv.Itoa(tfutils.TimeframeMinutes(timeframe))
}

func parseNumber(n wallex.Number) float64 {
	out, _ := strconv.ParseFloat(string(n), 64)
	return out
}

func parseNumberPtr(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	return parseNumber(*n)
}

func (w *WallexGateway) GetSymbolInfo(ctx context.Context, symbol string) (market.SymbolInfo, error) {
	info, ok := w.cfg.Symbols[symbol]
	if !ok {
		return market.SymbolInfo{}, fmt.Errorf("%w: %s has no configured metadata", ErrUnknownSymbol, symbol)
	}
	info.Symbol = symbol
	return info, nil
}

// GetTradingHours returns no sessions: the exchange trades around the clock.
func (w *WallexGateway) GetTradingHours(ctx context.Context, symbol string) (market.TradeHours, error) {
	return nil, nil
}

func (w *WallexGateway) GetHistory(ctx context.Context, symbol, timeframe string) ([]candle.Candle, error) {
	dur := tfutils.GetTimeframeDuration(timeframe)
	if dur == 0 {
		return nil, fmt.Errorf("%w: %s", tfutils.ErrUnsupportedTimeframe, timeframe)
	}
	end := time.Now().UTC()
	start := end.Add(-dur * time.Duration(w.cfg.HistoryCandles))
	return w.GetHistoryRange(ctx, symbol, timeframe, start, end)
}

func (w *WallexGateway) GetHistoryRange(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]candle.Candle, error) {
	if !tfutils.IsValidTimeframe(timeframe) {
		return nil, fmt.Errorf("%w: %s", tfutils.ErrUnsupportedTimeframe, timeframe)
	}

	var raw []*wallex.Candle
	err := retry(ctx, 3, 2*time.Second, func() error {
		var err error
		raw, err = w.client.Candles(NormalizeSymbol(symbol), NormalizedTimeframe(timeframe), start, end)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching candles: %w", err)
	}

	candles := make([]candle.Candle, 0, len(raw))
	for _, wc := range raw {
		c := candle.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Date:      tfutils.BucketStart(wc.Timestamp, timeframe),
			Open:      parseNumber(wc.Open),
			High:      parseNumber(wc.High),
			Low:       parseNumber(wc.Low),
			Close:     parseNumber(wc.Close),
			Volume:    parseNumber(wc.Volume),
		}
		if err := c.Validate(); err != nil {
			utils.GetLogger().Warnf("Exchange | [%s %s] Skipping invalid candle at %s: %v", symbol, timeframe, c.Date, err)
			continue
		}
		candles = append(candles, c)
	}
	candle.SortByDate(candles)
	return candles, nil
}

func (w *WallexGateway) GetBalance(ctx context.Context) (market.AccountBalance, error) {
	var balances map[string]*wallex.Balance
	err := retry(ctx, 3, 2*time.Second, func() error {
		var err error
		balances, err = w.client.Balances()
		return err
	})
	if err != nil {
		return market.AccountBalance{}, fmt.Errorf("fetching balances: %w", err)
	}

	b, ok := balances[w.cfg.QuoteAsset]
	if !ok {
		return market.AccountBalance{}, nil
	}
	free, locked := parseNumber(b.Value), parseNumber(b.Locked)
	total := free + locked
	return market.AccountBalance{
		Balance:    total,
		Equity:     total,
		Margin:     locked,
		MarginFree: free,
	}, nil
}

func (w *WallexGateway) GetTickPrice(ctx context.Context, symbol string) (market.Tick, error) {
	var markets []*wallex.Market
	err := retry(ctx, 3, 2*time.Second, func() error {
		var err error
		markets, err = w.client.Markets()
		return err
	})
	if err != nil {
		return market.Tick{}, fmt.Errorf("fetching markets: %w", err)
	}
	normalized := NormalizeSymbol(symbol)
	for _, m := range markets {
		if m.Symbol != normalized {
			continue
		}
		return market.Tick{
			Symbol:    symbol,
			Bid:       parseNumber(m.Stats.BidPrice),
			Ask:       parseNumber(m.Stats.AskPrice),
			BidVolume: parseNumber(m.Stats.BidVolume),
			AskVolume: parseNumber(m.Stats.AskVolume),
			Date:      time.Now().UTC(),
		}, nil
	}
	return market.Tick{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func (w *WallexGateway) SubscribePrice(symbols []string, fn TickHandler) (Subscription, error) {
	return w.AddPrice(symbols, fn), nil
}

func (w *WallexGateway) SubscribeEvents(h Handlers) (Subscription, error) {
	return w.AddEvents(h), nil
}

// Start launches the polling loop and the event dispatcher.
func (w *WallexGateway) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-w.queue:
				fn()
			}
		}
	}()
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		polls := 0
		for {
			select {
			case <-ctx.Done():
				utils.GetLogger().Infof("Exchange | Wallex polling stopped")
				return
			case <-ticker.C:
				polls++
				w.poll(ctx, polls%10 == 0)
			}
		}
	}()
}

func (w *WallexGateway) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *WallexGateway) emit(fn func()) {
	w.queue <- fn
}

func (w *WallexGateway) poll(ctx context.Context, withBalance bool) {
	var failed error
	for _, symbol := range w.Symbols() {
		trades, err := w.client.MarketTrades(NormalizeSymbol(symbol))
		if err != nil {
			failed = err
			continue
		}
		sort.Slice(trades, func(i, j int) bool { return trades[i].Timestamp.Before(trades[j].Timestamp) })

		w.mu.Lock()
		since := w.lastTrade[symbol]
		w.mu.Unlock()
		for _, tr := range trades {
			if !tr.Timestamp.After(since) {
				continue
			}
			t := market.Tick{
				Symbol:    symbol,
				Bid:       parseNumber(tr.Price),
				BidVolume: parseNumber(tr.Quantity),
				Date:      tr.Timestamp.UTC(),
			}
			w.mu.Lock()
			w.lastTrade[symbol] = tr.Timestamp
			w.lastTick[symbol] = t
			w.mu.Unlock()

			w.DispatchTick(t)
			w.checkStops(ctx, t)
		}
	}

	if withBalance {
		if b, err := w.GetBalance(ctx); err != nil {
			failed = err
		} else {
			w.mu.Lock()
			changed := b != w.balance
			w.balance = b
			w.mu.Unlock()
			if changed {
				w.emit(func() { w.DispatchBalance(b) })
			}
		}
	}

	w.mu.Lock()
	if failed == nil {
		w.failures = 0
		w.mu.Unlock()
		return
	}
	w.failures++
	disconnected := w.failures == w.cfg.MaxFailures
	w.mu.Unlock()

	utils.GetLogger().Errorf("Exchange | Wallex poll failed: %v", failed)
	if disconnected {
		w.emit(w.DispatchDisconnected)
	}
}

// checkStops closes local positions whose stop loss or take profit was hit.
func (w *WallexGateway) checkStops(ctx context.Context, t market.Tick) {
	w.mu.Lock()
	var hit []position.Position
	for _, p := range w.open {
		if p.Symbol != t.Symbol || p.Status == position.StatusClosing {
			continue
		}
		if (p.StopLoss > 0 && t.Bid <= p.StopLoss) || (p.TakeProfit > 0 && t.Bid >= p.TakeProfit) {
			hit = append(hit, p)
		}
	}
	w.mu.Unlock()

	for _, p := range hit {
		if err := w.ClosePosition(ctx, t.Bid, p); err != nil {
			utils.GetLogger().Errorf("Exchange | [%s] Failed to close %s at stop: %v", p.Symbol, p.ID, err)
		}
	}
}

type fill struct {
	orderID   string
	status    string
	price     float64
	qty       float64
	createdAt time.Time
}

func (w *WallexGateway) placeOrder(side string, symbol string, price, qty float64) (fill, error) {
	resp, err := w.client.PlaceOrder(&wallex.OrderParams{
		Symbol:   NormalizeSymbol(symbol),
		Type:     "MARKET",
		Side:     side,
		Price:    wallex.Number(strconv.FormatFloat(price, 'f', 8, 64)),
		Quantity: wallex.Number(strconv.FormatFloat(qty, 'f', 8, 64)),
	})
	if err != nil {
		return fill{}, err
	}
	return fill{
		orderID:   resp.ClientOrderID,
		status:    strings.ToUpper(resp.Status),
		price:     parseNumberPtr(resp.ExecutedPrice),
		qty:       parseNumberPtr(resp.ExecutedQty),
		createdAt: resp.CreatedAt.UTC(),
	}, nil
}

func rejectedStatus(status string) bool {
	switch strings.ToUpper(status) {
	case "REJECTED", "CANCELED", "CANCELLED", "EXPIRED":
		return true
	}
	return false
}

func (w *WallexGateway) OpenPosition(ctx context.Context, pos position.Position) error {
	if pos.Direction != position.Buy {
		return fmt.Errorf("%w: %s on spot market", ErrUnsupportedSide, pos.Direction)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	filled := pos
	filled.OpenPrice = pos.RequestedPrice
	filled.DateOpen = time.Now().UTC()
	if !w.cfg.Paper {
		resp, err := w.placeOrder("BUY", pos.Symbol, pos.RequestedPrice, pos.Volume)
		if err != nil {
			return fmt.Errorf("placing buy order: %w", err)
		}
		if rejectedStatus(resp.status) {
			rejected := pos
			rejected.Status = position.StatusRejected
			rejected.Comment = resp.status
			w.emit(func() { w.DispatchRejected(rejected) })
			return nil
		}
		if resp.price > 0 {
			filled.OpenPrice = resp.price
		}
		if resp.qty > 0 {
			filled.Volume = resp.qty
		}
		filled.Comment = resp.orderID
		filled.DateOpen = resp.createdAt
	}
	filled.Status = position.StatusOpened

	w.mu.Lock()
	w.open[filled.ID] = filled
	w.mu.Unlock()
	w.emit(func() { w.DispatchOpened(filled) })
	return nil
}

// UpdatePosition stores new stops; spot orders carry no server-side stops.
func (w *WallexGateway) UpdatePosition(ctx context.Context, price float64, pos position.Position) error {
	w.mu.Lock()
	cur, ok := w.open[pos.ID]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("position %s is not open", pos.ID)
	}
	cur.StopLoss, cur.TakeProfit = pos.StopLoss, pos.TakeProfit
	cur.Status = position.StatusUpdated
	w.open[pos.ID] = cur
	w.mu.Unlock()

	w.emit(func() { w.DispatchUpdated(cur) })
	return nil
}

func (w *WallexGateway) ClosePosition(ctx context.Context, price float64, pos position.Position) error {
	w.mu.Lock()
	cur, ok := w.open[pos.ID]
	if !ok || cur.Status == position.StatusClosing {
		w.mu.Unlock()
		if !ok {
			return fmt.Errorf("position %s is not open", pos.ID)
		}
		return nil
	}
	prev := cur.Status
	cur.Status = position.StatusClosing
	w.open[pos.ID] = cur
	w.mu.Unlock()

	closePrice := price
	if !w.cfg.Paper {
		resp, err := w.placeOrder("SELL", cur.Symbol, price, cur.Volume)
		if err == nil && rejectedStatus(resp.status) {
			err = errors.New("sell order " + resp.status)
		}
		if err != nil {
			w.mu.Lock()
			cur.Status = prev
			w.open[pos.ID] = cur
			w.mu.Unlock()
			return fmt.Errorf("placing sell order: %w", err)
		}
		if resp.price > 0 {
			closePrice = resp.price
		}
	}

	closed := cur
	closed.ClosePrice = closePrice
	closed.Profit = (closePrice - cur.OpenPrice) * cur.Volume
	closed.DateClose = time.Now().UTC()
	closed.Status = position.StatusClosed

	w.mu.Lock()
	delete(w.open, pos.ID)
	w.mu.Unlock()
	w.emit(func() { w.DispatchClosed(closed) })
	return nil
}
