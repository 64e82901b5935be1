package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hma-trading-bot/config"
	"hma-trading-bot/internal/accountant"
	"hma-trading-bot/internal/engine"
	"hma-trading-bot/internal/gateway"
	"hma-trading-bot/internal/indicator"
	"hma-trading-bot/internal/marketdata"
	"hma-trading-bot/internal/store"
)

// maxConcurrentUsers caps the per-tick fan-out across users
const maxConcurrentUsers = 5

// EventStream is the push connection the scheduler supervises
type EventStream interface {
	Start()
	Stop()
	IsRunning() bool
}

// Mirror receives best-effort state snapshots after each pass
type Mirror interface {
	Publish(ctx context.Context, state *engine.TradingState)
}

// Scheduler is the clock of the system. One ticker drives, per
// monitoring-enabled user: a gated indicator refresh, one state-machine
// pass per symbol, and one accounting pass — sequential within a user,
// concurrent across users with per-user mutual exclusion. A second
// ticker keeps the push order-event stream connected only while it is
// needed.
type Scheduler struct {
	store      store.StateStore
	quotes     *marketdata.QuoteService
	governor   *marketdata.RateGovernor
	engine     *engine.Engine
	accountant *accountant.Accountant
	stream     EventStream
	mirror     Mirror
	clock      Clock
	logger     zerolog.Logger

	monitorCfg   config.MonitorConfig
	indicatorCfg config.IndicatorConfig

	mu       sync.Mutex
	running  bool
	inFlight map[string]bool
	needsStream bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler wires the monitoring loop
func NewScheduler(
	st store.StateStore,
	quotes *marketdata.QuoteService,
	governor *marketdata.RateGovernor,
	eng *engine.Engine,
	acc *accountant.Accountant,
	stream EventStream,
	mirror Mirror,
	clock Clock,
	monitorCfg config.MonitorConfig,
	indicatorCfg config.IndicatorConfig,
	logger zerolog.Logger,
) *Scheduler {
	if clock == nil {
		clock = NewRealClock()
	}
	return &Scheduler{
		store:        st,
		quotes:       quotes,
		governor:     governor,
		engine:       eng,
		accountant:   acc,
		stream:       stream,
		mirror:       mirror,
		clock:        clock,
		logger:       logger,
		monitorCfg:   monitorCfg,
		indicatorCfg: indicatorCfg,
		inFlight:     make(map[string]bool),
	}
}

// Start launches the tick loops
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(2)
	go s.runLoop()
	go s.runStreamLoop()

	s.logger.Info().
		Dur("tick", s.monitorCfg.TickInterval()).
		Msg("monitoring scheduler started")
	return nil
}

// Stop halts the loops and waits for in-flight passes
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	if s.stream != nil && s.stream.IsRunning() {
		s.stream.Stop()
	}
	s.logger.Info().Msg("monitoring scheduler stopped")
	return nil
}

// IsRunning reports whether the loops are active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.monitorCfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.RunCycle(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) runStreamLoop() {
	defer s.wg.Done()

	interval := time.Duration(s.monitorCfg.StreamTickSeconds) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.superviseStream()
		case <-s.stopChan:
			return
		}
	}
}

// RunCycle executes one scheduler tick: fan out one pass per
// monitoring-enabled user, skipping users whose previous pass is still
// in flight
func (s *Scheduler) RunCycle(ctx context.Context) {
	// Upstream circuit open: all polling pauses for the cooldown
	if s.governor.Banned() {
		s.logger.Warn().Msg("rate-limit cooldown active, skipping tick")
		return
	}

	users, err := s.store.ListMonitoringUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list monitoring users")
		return
	}
	if len(users) == 0 {
		return
	}

	semaphore := make(chan struct{}, maxConcurrentUsers)
	var wg sync.WaitGroup

	for _, userID := range users {
		if !s.tryLockUser(userID) {
			continue // previous pass still running, no interleaved writes
		}

		wg.Add(1)
		semaphore <- struct{}{}
		go func(uid string) {
			defer wg.Done()
			defer func() { <-semaphore }()
			defer s.unlockUser(uid)
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error().Interface("panic", r).Str("user", uid).
						Msg("recovered panic in user pass")
				}
			}()

			s.runUserPass(ctx, uid)
		}(userID)
	}
	wg.Wait()
}

func (s *Scheduler) tryLockUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[userID] {
		return false
	}
	s.inFlight[userID] = true
	return true
}

func (s *Scheduler) unlockUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}

// runUserPass runs one user's full cycle: indicator refresh, state
// machine, accounting. Failures here are that user's alone.
func (s *Scheduler) runUserPass(ctx context.Context, userID string) {
	state, err := s.store.LoadState(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user", userID).Msg("failed to load state")
		return
	}
	if !state.ExecutionFlags.IsMonitoring || state.ExecutionFlags.RequiresReconnect {
		return
	}

	if err := s.runCyclePhases(ctx, state); err != nil {
		switch {
		case errors.Is(err, marketdata.ErrRateLimitExceeded),
			gateway.IsKind(err, gateway.KindRateLimited):
			// Governor circuit is open; every user pauses until cooldown
			s.logger.Warn().Str("user", userID).Msg("pass aborted by rate limit")
		case gateway.IsKind(err, gateway.KindAuthExpired):
			state.ExecutionFlags.RequiresReconnect = true
			s.logger.Warn().Str("user", userID).
				Msg("credentials expired, user paused until reconnection")
		default:
			s.logger.Error().Err(err).Str("user", userID).Msg("cycle error")
		}
	}

	if len(state.ActivePositions) > 0 {
		s.NoteOpenPositions(true)
	}
	state.ExecutionFlags.LastCycleAt = s.clock.Now()
	s.persist(ctx, state)
}

// runCyclePhases runs the ordered phases within one user's pass:
// indicator refresh, then the state machine, then position accounting,
// so positions are never judged against a prior cycle's indicator.
func (s *Scheduler) runCyclePhases(ctx context.Context, state *engine.TradingState) error {
	if err := s.refreshIndicators(ctx, state); err != nil {
		return err
	}

	quotes, err := s.fetchQuotes(ctx, state)
	if err != nil {
		return err
	}

	for _, sym := range state.MonitoredSymbols {
		if sym.TriggerStatus == engine.StatusCancelled {
			continue
		}
		price, ok := s.symbolPrice(quotes, sym)
		if !ok {
			continue // no quote this cycle, e.g. instrument not yet resolved
		}
		if err := s.engine.EvaluateSymbol(ctx, state, sym, price); err != nil {
			if errors.Is(err, engine.ErrDailyLimitReached) {
				continue
			}
			if errors.Is(err, marketdata.ErrRateLimitExceeded) ||
				gateway.IsKind(err, gateway.KindRateLimited) ||
				gateway.IsKind(err, gateway.KindAuthExpired) {
				return err
			}
			s.logger.Warn().Err(err).Str("symbol", sym.ID).Msg("symbol pass failed")
		}
	}

	return s.accountant.EvaluatePositions(ctx, state)
}

// refreshIndicators recomputes each symbol's HMA, gated to its own
// longer period so candle history is not refetched every tick
func (s *Scheduler) refreshIndicators(ctx context.Context, state *engine.TradingState) error {
	now := s.clock.Now()
	if now.Sub(state.ExecutionFlags.LastIndicatorRefresh) < s.indicatorCfg.RefreshInterval() {
		return nil
	}

	for _, sym := range state.MonitoredSymbols {
		if sym.TriggerStatus == engine.StatusCancelled || sym.Instrument == "" {
			continue
		}
		candles, err := s.quotes.GetCandles(ctx, sym.Instrument, "1d", s.indicatorCfg.HistoryBars)
		if err != nil {
			if errors.Is(err, marketdata.ErrRateLimitExceeded) ||
				gateway.IsKind(err, gateway.KindRateLimited) ||
				gateway.IsKind(err, gateway.KindAuthExpired) {
				return err
			}
			s.logger.Warn().Err(err).Str("instrument", sym.Instrument).
				Msg("candle refresh failed")
			continue
		}

		value, ok := indicator.HMALatest(marketdata.Closes(candles), s.indicatorCfg.Period)
		sym.PreviousHMAValue = sym.HMAValue
		sym.HMAValue = value
		sym.HMADefined = ok
	}

	state.ExecutionFlags.LastIndicatorRefresh = now
	return nil
}

// fetchQuotes pulls the user's polled set in one batch
func (s *Scheduler) fetchQuotes(ctx context.Context, state *engine.TradingState) (map[string]float64, error) {
	symbols := s.quotes.PolledSet(state.MonitoredInstruments())
	if len(symbols) == 0 {
		return nil, nil
	}
	quotes, err := s.quotes.GetQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}
	byInstrument := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		byInstrument[q.Symbol] = q.Last
	}
	return byInstrument, nil
}

func (s *Scheduler) symbolPrice(quotes map[string]float64, sym *engine.MonitoredSymbol) (float64, bool) {
	if sym.Instrument == "" {
		return 0, false
	}
	price, ok := quotes[sym.Instrument]
	return price, ok
}

// persist saves the state unless the user's monitoring flag was cleared
// mid-flight, in which case this pass's results are discarded
func (s *Scheduler) persist(ctx context.Context, state *engine.TradingState) {
	fresh, err := s.store.LoadState(ctx, state.UserID)
	if err == nil && !fresh.ExecutionFlags.IsMonitoring && state.ExecutionFlags.IsMonitoring {
		s.logger.Info().Str("user", state.UserID).
			Msg("monitoring cleared mid-flight, discarding pass results")
		return
	}

	if err := s.store.SaveState(ctx, state); err != nil {
		s.logger.Error().Err(err).Str("user", state.UserID).Msg("failed to save state")
		return
	}
	if s.mirror != nil {
		s.mirror.Publish(ctx, state)
	}
}

// HandleOrderEvent applies one push event under the owner's user lock.
// Exit fills append to the durable exit log.
func (s *Scheduler) HandleOrderEvent(ev gateway.OrderEvent) {
	if ev.UserID == "" {
		return
	}
	ctx := context.Background()

	// Same exclusion as a scheduled pass
	for !s.tryLockUser(ev.UserID) {
		time.Sleep(10 * time.Millisecond)
	}
	defer s.unlockUser(ev.UserID)

	state, err := s.store.LoadState(ctx, ev.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user", ev.UserID).Msg("failed to load state for order event")
		return
	}

	result, err := s.engine.ApplyOrderEvent(state, ev)
	if err != nil {
		s.logger.Error().Err(err).Str("order_id", ev.OrderID).Msg("failed to apply order event")
		return
	}
	if !result.Applied {
		return
	}
	if result.Exit != nil {
		if err := s.store.AppendExitLog(ctx, ev.UserID, *result.Exit); err != nil {
			s.logger.Error().Err(err).Msg("failed to append exit log")
		}
	}
	s.NoteOpenPositions(len(state.ActivePositions) > 0)
	s.persist(ctx, state)
}

// Do runs fn against a user's loaded state under the same per-user lock
// as a scheduled pass, then saves the result. This is the entry point
// for operator actions: they never interleave with a running pass.
func (s *Scheduler) Do(ctx context.Context, userID string, fn func(*engine.TradingState) error) error {
	if !s.tryLockUser(userID) {
		return fmt.Errorf("user %s has a pass in flight", userID)
	}
	defer s.unlockUser(userID)

	state, err := s.store.LoadState(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		state = engine.NewTradingState(userID)
	} else if err != nil {
		return err
	}

	if err := fn(state); err != nil {
		return err
	}

	if err := s.store.SaveState(ctx, state); err != nil {
		return err
	}
	if s.mirror != nil {
		s.mirror.Publish(ctx, state)
	}
	return nil
}

// RunRecovery reconciles a user's outstanding orders against the
// gateway, for post-reconnect or operator-triggered sweeps
func (s *Scheduler) RunRecovery(ctx context.Context, userID string) error {
	if !s.tryLockUser(userID) {
		return fmt.Errorf("user %s has a pass in flight", userID)
	}
	defer s.unlockUser(userID)

	state, err := s.store.LoadState(ctx, userID)
	if err != nil {
		return err
	}

	exits, err := s.engine.RecoverOrders(ctx, state)
	if err != nil {
		return err
	}
	for _, exit := range exits {
		if err := s.store.AppendExitLog(ctx, userID, *exit); err != nil {
			return err
		}
	}
	s.persist(ctx, state)
	return nil
}

// superviseStream keeps the push connection open only while at least one
// user is monitoring or holds open positions
func (s *Scheduler) superviseStream() {
	if s.stream == nil {
		return
	}
	ctx := context.Background()

	users, err := s.store.ListMonitoringUsers(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("stream supervisor failed to list users")
		return
	}

	needed := len(users) > 0
	if !needed {
		s.mu.Lock()
		needed = s.needsStream
		s.mu.Unlock()
	}

	switch {
	case needed && !s.stream.IsRunning():
		s.logger.Info().Msg("opening order-event stream")
		s.stream.Start()
	case !needed && s.stream.IsRunning():
		s.logger.Info().Msg("closing idle order-event stream")
		s.stream.Stop()
	}
}

// NoteOpenPositions lets passes flag that positions remain open even
// when no user is actively monitoring, keeping the stream connected
func (s *Scheduler) NoteOpenPositions(open bool) {
	s.mu.Lock()
	s.needsStream = open
	s.mu.Unlock()
}

// Status summarizes the scheduler for the admin API
func (s *Scheduler) Status() map[string]interface{} {
	s.mu.Lock()
	inFlight := len(s.inFlight)
	running := s.running
	s.mu.Unlock()

	streamRunning := false
	if s.stream != nil {
		streamRunning = s.stream.IsRunning()
	}

	return map[string]interface{}{
		"running":          running,
		"in_flight_users":  inFlight,
		"stream_connected": streamRunning,
		"tick_seconds":     s.monitorCfg.TickSeconds,
		"cooldown_active":  s.governor.Banned(),
	}
}
