package copier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"whalescope/internal/faults"
	"whalescope/internal/models"
)

// SessionStore persists copier sessions so they survive client
// reconnects.
type SessionStore interface {
	CreateCopierSession(ctx context.Context, s *models.CopierSession) error
	UpdateCopierSession(ctx context.Context, s *models.CopierSession) error
	GetCopierSession(ctx context.Context, id string) (*models.CopierSession, error)
	ListActiveSessions(ctx context.Context, whaleID string) ([]models.CopierSession, error)
	ListTradesSince(ctx context.Context, whaleID string, since time.Time, limit int) ([]models.Trade, error)
	LatestTradeTime(ctx context.Context, whaleID string) (time.Time, error)
}

const (
	sessionPollInterval = time.Second
	maxNotifications    = 50
	maxErrors           = 20

	// Shadow equity a session starts with when the caller gives none.
	defaultShadowDepositUSD = 10_000
)

// SessionParams configures a live session. Zero values fall back to
// the backtester defaults: full-equity sizing, 1x leverage, and the
// default shadow deposit.
type SessionParams struct {
	RunID             *int64
	PositionPct       float64
	FeeBps            float64
	SlippageBps       float64
	Leverage          float64
	InitialDepositUSD float64
}

// liveSession is the in-process state of one running session.
type liveSession struct {
	mu        sync.Mutex
	row       models.CopierSession
	positions map[string]*simPosition // positions the session has itself entered
	cancel    context.CancelFunc
}

// Manager runs live shadow sessions. Sessions never place real orders;
// execute mode is reserved and unimplemented.
type Manager struct {
	store SessionStore

	mu       sync.Mutex
	sessions map[string]*liveSession
	locks    map[string]*sync.Mutex // per-whale start serialization
}

func NewManager(store SessionStore) *Manager {
	return &Manager{
		store:    store,
		sessions: make(map[string]*liveSession),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *Manager) whaleLock(whaleID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[whaleID]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[whaleID] = l
	return l
}

// Start creates and activates a session for a whale. The last-seen
// cursor seeds from the whale's newest trade so only post-session
// activity is copied.
func (m *Manager) Start(ctx context.Context, whale *models.Whale, params SessionParams) (*models.CopierSession, error) {
	lock := m.whaleLock(whale.ID)
	lock.Lock()
	defer lock.Unlock()

	if params.PositionPct <= 0 {
		params.PositionPct = 100
	}
	if params.Leverage <= 0 {
		params.Leverage = 1
	}
	if params.InitialDepositUSD <= 0 {
		params.InitialDepositUSD = defaultShadowDepositUSD
	}

	lastSeen, err := m.store.LatestTradeTime(ctx, whale.ID)
	if err != nil {
		return nil, err
	}
	var seen *time.Time
	if !lastSeen.IsZero() {
		seen = &lastSeen
	}

	row := models.CopierSession{
		ID:            uuid.NewString(),
		WhaleID:       whale.ID,
		RunID:         params.RunID,
		Active:        true,
		PositionPct:   params.PositionPct,
		FeeBps:        params.FeeBps,
		SlippageBps:   params.SlippageBps,
		Leverage:      params.Leverage,
		InitialUSD:    params.InitialDepositUSD,
		EquityUSD:     params.InitialDepositUSD,
		LastSeenAt:    seen,
		Notifications: []string{"session started (shadow mode)"},
		Errors:        []string{},
	}
	if err := m.store.CreateCopierSession(ctx, &row); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ls := &liveSession{
		row:       row,
		positions: make(map[string]*simPosition),
		cancel:    cancel,
	}
	m.mu.Lock()
	m.sessions[row.ID] = ls
	m.mu.Unlock()

	go m.poll(runCtx, ls)
	log.Info().Str("session", row.ID).Str("whale", whale.ID).Msg("copier session started")
	return &row, nil
}

// Stop deactivates a session. Unknown ids return faults.ErrNotFound.
func (m *Manager) Stop(ctx context.Context, sessionID string) (*models.CopierSession, error) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		ls.cancel()
		ls.mu.Lock()
		ls.row.Active = false
		ls.row.Notifications = appendBounded(ls.row.Notifications, "session stopped", maxNotifications)
		row := ls.row
		ls.mu.Unlock()
		if err := m.store.UpdateCopierSession(ctx, &row); err != nil {
			return nil, err
		}
		return &row, nil
	}

	// Not in this process; flip the persisted row.
	row, err := m.store.GetCopierSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if row.Active {
		row.Active = false
		row.Notifications = appendBounded(row.Notifications, "session stopped", maxNotifications)
		if err := m.store.UpdateCopierSession(ctx, row); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// StopForWhale stops every active session of a whale, used on whale
// deletion.
func (m *Manager) StopForWhale(ctx context.Context, whaleID string) {
	sessions, err := m.store.ListActiveSessions(ctx, whaleID)
	if err != nil {
		log.Warn().Err(err).Str("whale", whaleID).Msg("failed to list sessions for stop")
		return
	}
	for _, s := range sessions {
		if _, err := m.Stop(ctx, s.ID); err != nil && err != faults.ErrNotFound {
			log.Warn().Err(err).Str("session", s.ID).Msg("failed to stop session")
		}
	}
}

// Status returns the current session row.
func (m *Manager) Status(ctx context.Context, sessionID string) (*models.CopierSession, error) {
	m.mu.Lock()
	ls, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if ok {
		ls.mu.Lock()
		row := ls.row
		ls.mu.Unlock()
		return &row, nil
	}
	return m.store.GetCopierSession(ctx, sessionID)
}

// ListActive resumes UI state after a reconnect.
func (m *Manager) ListActive(ctx context.Context, whaleID string) ([]models.CopierSession, error) {
	return m.store.ListActiveSessions(ctx, whaleID)
}

func (m *Manager) poll(ctx context.Context, ls *liveSession) {
	ticker := time.NewTicker(sessionPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.pollOnce(ctx, ls); err != nil {
				ls.mu.Lock()
				ls.row.Errors = appendBounded(ls.row.Errors, err.Error(), maxErrors)
				row := ls.row
				ls.mu.Unlock()
				log.Warn().Err(err).Str("session", row.ID).Msg("session poll failed")
				if uerr := m.store.UpdateCopierSession(ctx, &row); uerr != nil {
					log.Warn().Err(uerr).Str("session", row.ID).Msg("failed to persist session error")
				}
			}
		}
	}
}

func (m *Manager) pollOnce(ctx context.Context, ls *liveSession) error {
	ls.mu.Lock()
	since := time.Time{}
	if ls.row.LastSeenAt != nil {
		since = *ls.row.LastSeenAt
	}
	whaleID := ls.row.WhaleID
	ls.mu.Unlock()

	trades, err := m.store.ListTradesSince(ctx, whaleID, since, 200)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	for _, t := range trades {
		m.applyTrade(ls, t)
		ts := t.Timestamp
		ls.row.LastSeenAt = &ts
		ls.row.ProcessedTrades++
	}
	row := ls.row
	go func() {
		if err := m.store.UpdateCopierSession(context.WithoutCancel(ctx), &row); err != nil {
			log.Warn().Err(err).Str("session", row.ID).Msg("failed to persist session progress")
		}
	}()
	return nil
}

// applyTrade mirrors the backtest sizing and cost rules in shadow
// mode: entries commit PositionPct of current equity times leverage,
// fees and slippage are computed on the entry notional and charged at
// close, and realized pnl rolls into the session's simulated equity.
// Exits for positions the whale opened before the session began are
// skipped.
func (m *Manager) applyTrade(ls *liveSession, t models.Trade) {
	switch {
	case models.IsEntry(t.Direction) && t.Direction != models.DirDeposit:
		if _, open := ls.positions[t.BaseAsset]; open {
			return
		}
		price := tradePrice(t)
		if price == 0 {
			ls.row.Notifications = appendBounded(ls.row.Notifications,
				fmt.Sprintf("skipped %s %s: no price", t.Direction, t.BaseAsset),
				maxNotifications)
			return
		}

		desired := ls.row.EquityUSD * ls.row.PositionPct / 100 * ls.row.Leverage
		if max := ls.row.EquityUSD * ls.row.Leverage; desired > max {
			desired = max
		}
		if desired <= 0 {
			return
		}
		ls.positions[t.BaseAsset] = &simPosition{
			asset:      t.BaseAsset,
			short:      t.Direction == models.DirShort,
			qty:        desired / price,
			entryPrice: price,
			notional:   desired,
			fee:        desired * ls.row.FeeBps / 10000,
			slippage:   desired * ls.row.SlippageBps / 10000,
		}
		ls.row.Notifications = appendBounded(ls.row.Notifications,
			fmt.Sprintf("copied %s %s: $%.2f notional at %s", t.Direction, t.BaseAsset, desired, t.Timestamp.Format(time.RFC3339)),
			maxNotifications)

	case models.IsExit(t.Direction) && t.Direction != models.DirWithdraw:
		pos, open := ls.positions[t.BaseAsset]
		if !open {
			ls.row.Notifications = appendBounded(ls.row.Notifications,
				fmt.Sprintf("skipped %s %s: position predates session", t.Direction, t.BaseAsset),
				maxNotifications)
			return
		}
		delete(ls.positions, t.BaseAsset)

		price := tradePrice(t)
		if price == 0 {
			// No exit price; close flat and realize the costs only.
			price = pos.entryPrice
		}
		gross := pos.qty * (price - pos.entryPrice)
		if pos.short {
			gross = -gross
		}
		net := gross - pos.fee - pos.slippage
		ls.row.EquityUSD += net
		ls.row.NetPnLUSD += net
		ls.row.Notifications = appendBounded(ls.row.Notifications,
			fmt.Sprintf("closed %s copy: net pnl $%.2f, equity $%.2f", t.BaseAsset, net, ls.row.EquityUSD),
			maxNotifications)
	}
}

func appendBounded(buf []string, msg string, max int) []string {
	buf = append(buf, msg)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}
