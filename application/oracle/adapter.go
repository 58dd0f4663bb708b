// Package oracle gates price and TVL reads behind a lock, a staleness check and an
// emergency override.
//
// Unlocked reads come from sources submitted by the feeder. Any structural change to
// the protocol locks the adapter, and reads fail with LOCKED until the lock expires
// or is lifted. An active override is returned regardless of lock and staleness.
package oracle

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// Gate is what value-reading components need from the adapter.
type Gate interface {
	Lock(w db.Writer) error
	GetTvl(r db.Reader) (*uint256.Int, error)
	GetPrice(r db.Reader, asset common.Address) (*uint256.Int, error)
}

var _ Gate = (*Adapter)(nil)

type source struct {
	Value       []byte `cbor:"1,keyasint"`
	UpdatedAt   int64  `cbor:"2,keyasint"`
	StalePeriod int64  `cbor:"3,keyasint"` // seconds, 0 means the configured default
}

type override struct {
	Value     []byte `cbor:"1,keyasint"`
	Until     int64  `cbor:"2,keyasint"` // 0 never expires
	Emergency bool   `cbor:"3,keyasint"`
}

// Status is a snapshot of the adapter state for queries.
type Status struct {
	Now            int64        `json:"now"`
	LockedUntil    int64        `json:"locked_until"`
	Locked         bool         `json:"locked"`
	TvlOverride    *uint256.Int `json:"tvl_override,omitempty"`
	OverrideUntil  int64        `json:"override_until,omitempty"`
	EmergencyValue bool         `json:"emergency_override,omitempty"`
}

type Adapter struct {
	cfg   Config
	clock Clock
	log   zerolog.Logger
}

func NewAdapter(cfg Config, clock Clock, log zerolog.Logger) *Adapter {
	cfg.applyDefaults()

	if clock == nil {
		clock = SystemClock{}
	}

	return &Adapter{
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("component", "oracle").Logger(),
	}
}

func (a *Adapter) Config() Config {
	return a.cfg
}

func (a *Adapter) now() int64 {
	return a.clock.Now().Unix()
}

// Lock locks the adapter for the default lock period.
func (a *Adapter) Lock(w db.Writer) error {
	return a.LockFor(w, a.cfg.DefaultLockPeriod)
}

// LockFor extends the lock to now+d. An existing longer lock is kept. The lock is
// stored in whole seconds, so d must be at least one second.
func (a *Adapter) LockFor(w db.Writer, d time.Duration) error {
	if d < time.Second || d > a.cfg.MaxLockPeriod {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidPeriod, "lock period %s", d)
	}

	current, err := a.LockedUntil(w)
	if err != nil {
		return err
	}

	until := a.now() + int64(d/time.Second)
	if until <= current {
		return nil
	}

	a.log.Debug().Int64("until", until).Msg("oracle locked")

	return db.PutUint(w, db.OracleBucket, lockKey, uint256.NewInt(uint64(until)))
}

// ExtendLock is LockFor called by a protocol component or the emergency role.
func (a *Adapter) ExtendLock(w db.Writer, ctx access.Context, d time.Duration) error {
	if err := access.Require(w, ctx, access.RoleContract, access.RoleEmergency); err != nil {
		return err
	}

	return a.LockFor(w, d)
}

// Unlock lifts the lock. Only protocol components may call it.
func (a *Adapter) Unlock(w db.Writer, ctx access.Context) error {
	if err := access.Require(w, ctx, access.RoleContract); err != nil {
		return err
	}

	return a.unlock(w)
}

func (a *Adapter) EmergencyUnlock(w db.Writer, ctx access.Context) error {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return err
	}

	a.log.Warn().Str("sender", ctx.Sender.Hex()).Msg("emergency unlock")

	return a.unlock(w)
}

func (a *Adapter) unlock(w db.Writer) error {
	return w.Delete(db.OracleBucket, lockKey)
}

func (a *Adapter) LockedUntil(r db.Reader) (int64, error) {
	v, err := db.GetUint(r, db.OracleBucket, lockKey)
	if err != nil {
		return 0, err
	}

	return int64(v.Uint64()), nil
}

func (a *Adapter) IsLocked(r db.Reader) (bool, error) {
	until, err := a.LockedUntil(r)
	if err != nil {
		return false, err
	}

	return a.now() < until, nil
}

// GetTvl returns the TVL override if one is active, otherwise the fresh TVL source value.
func (a *Adapter) GetTvl(r db.Reader) (*uint256.Int, error) {
	if v, ok, err := a.activeTvlOverride(r); err != nil || ok {
		return v, err
	}

	return a.read(r, TvlSource, true)
}

// GetPrice returns the asset override if set, otherwise the fresh, nonzero source price.
func (a *Adapter) GetPrice(r db.Reader, asset common.Address) (*uint256.Int, error) {
	var o override

	ok, err := db.GetRecord(r, db.OracleBucket, assetOverrideKey(asset), &o)
	if err != nil {
		return nil, err
	}

	if ok {
		return new(uint256.Int).SetBytes(o.Value), nil
	}

	price, err := a.read(r, asset, true)
	if err != nil {
		return nil, err
	}

	if price.IsZero() {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonMissingValue, "asset %s", asset.Hex())
	}

	return price, nil
}

// SourcePrice reads an asset's source price with the staleness check but without the
// lock check. The keeper uses it to recompute TVL while the adapter is locked.
func (a *Adapter) SourcePrice(r db.Reader, asset common.Address) (*uint256.Int, error) {
	price, err := a.read(r, asset, false)
	if err != nil {
		return nil, err
	}

	if price.IsZero() {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonMissingValue, "asset %s", asset.Hex())
	}

	return price, nil
}

func (a *Adapter) read(r db.Reader, src common.Address, checkLock bool) (*uint256.Int, error) {
	if checkLock {
		locked, err := a.IsLocked(r)
		if err != nil {
			return nil, err
		}

		if locked {
			return nil, apperr.New(apperr.ErrInvalidState, apperr.ReasonLocked)
		}
	}

	var s source

	ok, err := db.GetRecord(r, db.OracleBucket, sourceKey(src), &s)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_SOURCE", "%s", src.Hex())
	}

	stale := s.StalePeriod
	if stale == 0 {
		stale = int64(a.cfg.DefaultStalePeriod / time.Second)
	}

	if a.now()-s.UpdatedAt > stale {
		return nil, apperr.Newf(apperr.ErrInvalidState, apperr.ReasonStaleData, "source %s updated at %d", src.Hex(), s.UpdatedAt)
	}

	return new(uint256.Int).SetBytes(s.Value), nil
}

func (a *Adapter) activeTvlOverride(r db.Reader) (*uint256.Int, bool, error) {
	var o override

	ok, err := db.GetRecord(r, db.OracleBucket, tvlOverrideKey, &o)
	if err != nil || !ok {
		return nil, false, err
	}

	if o.Until != 0 && a.now() >= o.Until {
		return nil, false, nil
	}

	return new(uint256.Int).SetBytes(o.Value), true, nil
}

// SetTvl sets a TVL override valid for validity. An emergency override can only
// be replaced by the emergency role.
func (a *Adapter) SetTvl(w db.Writer, ctx access.Context, value *uint256.Int, validity time.Duration) error {
	if err := access.Require(w, ctx, access.RoleAdmin, access.RoleEmergency); err != nil {
		return err
	}

	if validity < time.Second || validity > a.cfg.MaxOverridePeriod {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidPeriod, "validity %s", validity)
	}

	var current override

	ok, err := db.GetRecord(w, db.OracleBucket, tvlOverrideKey, &current)
	if err != nil {
		return err
	}

	if ok && current.Emergency {
		isEmergency, err := access.Has(w, access.RoleEmergency, ctx.Sender)
		if err != nil {
			return err
		}

		if !isEmergency {
			return apperr.New(apperr.ErrInvalidState, apperr.ReasonEmergencyOverride)
		}
	}

	return db.PutRecord(w, db.OracleBucket, tvlOverrideKey, override{
		Value: value.Bytes(),
		Until: a.now() + int64(validity/time.Second),
	})
}

// EmergencySetTvl sets a TVL override that stays until EmergencyUnsetTvl.
func (a *Adapter) EmergencySetTvl(w db.Writer, ctx access.Context, value *uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return err
	}

	a.log.Warn().Stringer("value", value).Msg("emergency tvl override")

	return db.PutRecord(w, db.OracleBucket, tvlOverrideKey, override{
		Value:     value.Bytes(),
		Emergency: true,
	})
}

func (a *Adapter) EmergencyUnsetTvl(w db.Writer, ctx access.Context) error {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return err
	}

	return w.Delete(db.OracleBucket, tvlOverrideKey)
}

func (a *Adapter) EmergencySetAssetValue(w db.Writer, ctx access.Context, asset common.Address, value *uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return err
	}

	if value.IsZero() {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAmount)
	}

	return db.PutRecord(w, db.OracleBucket, assetOverrideKey(asset), override{
		Value:     value.Bytes(),
		Emergency: true,
	})
}

func (a *Adapter) EmergencyUnsetAssetValue(w db.Writer, ctx access.Context, asset common.Address) error {
	if err := access.Require(w, ctx, access.RoleEmergency); err != nil {
		return err
	}

	return w.Delete(db.OracleBucket, assetOverrideKey(asset))
}

// SubmitTvl records a new TVL source value.
func (a *Adapter) SubmitTvl(w db.Writer, ctx access.Context, value *uint256.Int) error {
	return a.submit(w, ctx, TvlSource, value)
}

// SubmitPrice records a new source price for asset.
func (a *Adapter) SubmitPrice(w db.Writer, ctx access.Context, asset common.Address, value *uint256.Int) error {
	if asset == (common.Address{}) || asset == TvlSource {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	return a.submit(w, ctx, asset, value)
}

func (a *Adapter) submit(w db.Writer, ctx access.Context, src common.Address, value *uint256.Int) error {
	if err := access.Require(w, ctx, access.RoleOracleFeeder); err != nil {
		return err
	}

	var s source
	if _, err := db.GetRecord(w, db.OracleBucket, sourceKey(src), &s); err != nil {
		return err
	}

	s.Value = value.Bytes()
	s.UpdatedAt = a.now()

	return db.PutRecord(w, db.OracleBucket, sourceKey(src), s)
}

// SetStalePeriod sets how long values from src stay fresh.
func (a *Adapter) SetStalePeriod(w db.Writer, ctx access.Context, src common.Address, period time.Duration) error {
	if err := access.Require(w, ctx, access.RoleAdmin); err != nil {
		return err
	}

	if period < time.Second {
		return apperr.Newf(apperr.ErrInvalidState, apperr.ReasonInvalidPeriod, "stale period %s", period)
	}

	var s source
	if _, err := db.GetRecord(w, db.OracleBucket, sourceKey(src), &s); err != nil {
		return err
	}

	s.StalePeriod = int64(period / time.Second)

	return db.PutRecord(w, db.OracleBucket, sourceKey(src), s)
}

func (a *Adapter) Status(r db.Reader) (Status, error) {
	until, err := a.LockedUntil(r)
	if err != nil {
		return Status{}, err
	}

	now := a.now()
	st := Status{Now: now, LockedUntil: until, Locked: now < until}

	var o override

	ok, err := db.GetRecord(r, db.OracleBucket, tvlOverrideKey, &o)
	if err != nil {
		return Status{}, err
	}

	if ok && (o.Until == 0 || now < o.Until) {
		st.TvlOverride = new(uint256.Int).SetBytes(o.Value)
		st.OverrideUntil = o.Until
		st.EmergencyValue = o.Emergency
	}

	return st, nil
}
