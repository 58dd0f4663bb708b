package application

import (
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/allocation"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
	"github.com/0xAtelerix/yieldchain/application/ledger"
	"github.com/0xAtelerix/yieldchain/application/tokens"
	"github.com/0xAtelerix/yieldchain/application/zaps"
)

// Transaction kinds.
const (
	KindTransfer   = "transfer"
	KindGrantRole  = "grantRole"
	KindRevokeRole = "revokeRole"

	KindAddAllocation          = "addAllocation"
	KindRemoveAllocation       = "removeAllocation"
	KindRegisterProvider       = "registerProvider"
	KindDeregisterProvider     = "deregisterProvider"
	KindRegisterToken          = "registerToken"
	KindRegisterTokenByAddress = "registerTokenByAddress"
	KindRemoveToken            = "removeToken"

	KindLock                     = "lock"
	KindUnlock                   = "unlock"
	KindEmergencyUnlock          = "emergencyUnlock"
	KindSetTvl                   = "setTvl"
	KindEmergencySetTvl          = "emergencySetTvl"
	KindEmergencyUnsetTvl        = "emergencyUnsetTvl"
	KindEmergencySetAssetValue   = "emergencySetAssetValue"
	KindEmergencyUnsetAssetValue = "emergencyUnsetAssetValue"
	KindSubmitTvl                = "submitTvl"
	KindSubmitPrice              = "submitPrice"
	KindSetStalePeriod           = "setStalePeriod"

	KindMint                           = "mint"
	KindBurn                           = "burn"
	KindRegisterPool                   = "registerPool"
	KindRemovePool                     = "removePool"
	KindFundLpAccount                  = "fundLpAccount"
	KindWithdrawFromLpAccount          = "withdrawFromLpAccount"
	KindEmergencyFundLpAccount         = "emergencyFundLpAccount"
	KindEmergencyWithdrawFromLpAccount = "emergencyWithdrawFromLpAccount"

	KindRegisterZap                = "registerZap"
	KindRemoveZap                  = "removeZap"
	KindDeployStrategy             = "deployStrategy"
	KindUnwindStrategy             = "unwindStrategy"
	KindClaim                      = "claim"
	KindRegisterMultipleRewardFees = "registerMultipleRewardFees"
	KindRemoveRewardFee            = "removeRewardFee"
	KindSetTreasury                = "setTreasury"
	KindNotifyReward               = "notifyReward"
)

type handler func(app *Appchain, w db.Writer, ctx access.Context, payload []byte) (any, error)

// handle decodes the payload into P before calling fn. An empty payload leaves P zero.
func handle[P any](fn func(app *Appchain, w db.Writer, ctx access.Context, p P) (any, error)) handler {
	return func(app *Appchain, w db.Writer, ctx access.Context, payload []byte) (any, error) {
		var p P

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, apperr.Newf(apperr.ErrInvalidState, "BAD_PAYLOAD", "%v", err)
			}
		}

		return fn(app, w, ctx, p)
	}
}

// done adapts an operation without a result.
func done(err error) (any, error) {
	return nil, err
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}

	return v
}

func seconds(s uint64) time.Duration {
	return time.Duration(s) * time.Second
}

type TransferPayload struct {
	Token  common.Address `json:"token"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

type RolePayload struct {
	Role    string         `json:"role"`
	Account common.Address `json:"account"`
}

type AllocationPayload struct {
	Target   common.Address `json:"target"`
	Lookup   hexutil.Bytes  `json:"lookup"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

type AllocationIDPayload struct {
	ID allocation.ID `json:"id"`
}

type ProviderPayload struct {
	Provider common.Address `json:"provider"`
}

type TokenPayload struct {
	Token    common.Address `json:"token"`
	Symbol   string         `json:"symbol,omitempty"`
	Decimals uint8          `json:"decimals,omitempty"`
}

type PeriodPayload struct {
	Seconds uint64 `json:"seconds"`
}

type TvlPayload struct {
	Value *uint256.Int `json:"value"`
	// Validity of an override in seconds.
	Validity uint64 `json:"validity,omitempty"`
}

type AssetValuePayload struct {
	Asset common.Address `json:"asset"`
	Value *uint256.Int   `json:"value,omitempty"`
}

type StalePeriodPayload struct {
	Source  common.Address `json:"source"`
	Seconds uint64         `json:"seconds"`
}

type SharesPayload struct {
	Holder common.Address `json:"holder"`
	Amount *uint256.Int   `json:"amount"`
}

type PoolIDPayload struct {
	ID string `json:"id"`
}

type PoolsPayload struct {
	Pools   []string       `json:"pools"`
	Amounts []*uint256.Int `json:"amounts,omitempty"`
}

type ZapPayload struct {
	Name                   string `json:"name"`
	PrimaryWithdrawBlocked bool   `json:"primary_withdraw_blocked,omitempty"`
}

type DeployPayload struct {
	Name    string         `json:"name"`
	Amounts []*uint256.Int `json:"amounts"`
}

type UnwindPayload struct {
	Name   string       `json:"name"`
	Amount *uint256.Int `json:"amount"`
	Index  uint8        `json:"index"`
}

type ClaimPayload struct {
	Names []string `json:"names"`
}

type RewardFeesPayload struct {
	Tokens []common.Address `json:"tokens"`
	Fees   []uint16         `json:"fees"`
}

type TreasuryPayload struct {
	Treasury common.Address `json:"treasury"`
}

type NotifyRewardPayload struct {
	Venue   common.Address `json:"venue"`
	Account common.Address `json:"account"`
	Token   common.Address `json:"token"`
	Amount  *uint256.Int   `json:"amount"`
}

//nolint:gochecknoglobals // dispatch table
var kinds = map[string]handler{
	KindTransfer: handle(func(_ *Appchain, w db.Writer, ctx access.Context, p TransferPayload) (any, error) {
		return done(tokens.Transfer(w, p.Token, ctx.Sender, p.To, orZero(p.Amount)))
	}),
	KindGrantRole: handle(func(_ *Appchain, w db.Writer, ctx access.Context, p RolePayload) (any, error) {
		role, err := access.ParseRole(p.Role)
		if err != nil {
			return nil, err
		}

		return done(access.GrantRole(w, ctx, role, p.Account))
	}),
	KindRevokeRole: handle(func(_ *Appchain, w db.Writer, ctx access.Context, p RolePayload) (any, error) {
		role, err := access.ParseRole(p.Role)
		if err != nil {
			return nil, err
		}

		return done(access.RevokeRole(w, ctx, role, p.Account))
	}),

	KindAddAllocation: handle(func(app *Appchain, w db.Writer, ctx access.Context, p AllocationPayload) (any, error) {
		id, err := app.Registry.AddAllocation(w, ctx, p.Target, p.Lookup, p.Symbol, p.Decimals)
		if err != nil {
			return nil, err
		}

		return AllocationIDPayload{ID: id}, nil
	}),
	KindRemoveAllocation: handle(func(app *Appchain, w db.Writer, ctx access.Context, p AllocationIDPayload) (any, error) {
		return done(app.Registry.RemoveAllocation(w, ctx, p.ID))
	}),
	KindRegisterProvider: handle(func(app *Appchain, w db.Writer, ctx access.Context, p ProviderPayload) (any, error) {
		return done(app.Registry.Register(w, ctx, p.Provider))
	}),
	KindDeregisterProvider: handle(func(app *Appchain, w db.Writer, ctx access.Context, p ProviderPayload) (any, error) {
		return done(app.Registry.Deregister(w, ctx, p.Provider))
	}),
	KindRegisterToken: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TokenPayload) (any, error) {
		return done(app.Provider.RegisterToken(w, ctx, p.Token, p.Symbol, p.Decimals))
	}),
	KindRegisterTokenByAddress: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TokenPayload) (any, error) {
		return done(app.Provider.RegisterTokenByAddress(w, ctx, p.Token))
	}),
	KindRemoveToken: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TokenPayload) (any, error) {
		return done(app.Provider.RemoveToken(w, ctx, p.Token))
	}),

	KindLock: handle(func(app *Appchain, w db.Writer, ctx access.Context, p PeriodPayload) (any, error) {
		d := app.Oracle.Config().DefaultLockPeriod
		if p.Seconds > 0 {
			d = seconds(p.Seconds)
		}

		return done(app.Oracle.ExtendLock(w, ctx, d))
	}),
	KindUnlock: handle(func(app *Appchain, w db.Writer, ctx access.Context, _ struct{}) (any, error) {
		return done(app.Oracle.Unlock(w, ctx))
	}),
	KindEmergencyUnlock: handle(func(app *Appchain, w db.Writer, ctx access.Context, _ struct{}) (any, error) {
		return done(app.Oracle.EmergencyUnlock(w, ctx))
	}),
	KindSetTvl: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TvlPayload) (any, error) {
		return done(app.Oracle.SetTvl(w, ctx, orZero(p.Value), seconds(p.Validity)))
	}),
	KindEmergencySetTvl: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TvlPayload) (any, error) {
		return done(app.Oracle.EmergencySetTvl(w, ctx, orZero(p.Value)))
	}),
	KindEmergencyUnsetTvl: handle(func(app *Appchain, w db.Writer, ctx access.Context, _ struct{}) (any, error) {
		return done(app.Oracle.EmergencyUnsetTvl(w, ctx))
	}),
	KindEmergencySetAssetValue: handle(func(app *Appchain, w db.Writer, ctx access.Context, p AssetValuePayload) (any, error) {
		return done(app.Oracle.EmergencySetAssetValue(w, ctx, p.Asset, orZero(p.Value)))
	}),
	KindEmergencyUnsetAssetValue: handle(func(app *Appchain, w db.Writer, ctx access.Context, p AssetValuePayload) (any, error) {
		return done(app.Oracle.EmergencyUnsetAssetValue(w, ctx, p.Asset))
	}),
	KindSubmitTvl: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TvlPayload) (any, error) {
		return done(app.Oracle.SubmitTvl(w, ctx, orZero(p.Value)))
	}),
	KindSubmitPrice: handle(func(app *Appchain, w db.Writer, ctx access.Context, p AssetValuePayload) (any, error) {
		return done(app.Oracle.SubmitPrice(w, ctx, p.Asset, orZero(p.Value)))
	}),
	KindSetStalePeriod: handle(func(app *Appchain, w db.Writer, ctx access.Context, p StalePeriodPayload) (any, error) {
		return done(app.Oracle.SetStalePeriod(w, ctx, p.Source, seconds(p.Seconds)))
	}),

	KindMint: handle(func(app *Appchain, w db.Writer, ctx access.Context, p SharesPayload) (any, error) {
		return done(app.Ledger.Mint(w, ctx, p.Holder, orZero(p.Amount)))
	}),
	KindBurn: handle(func(app *Appchain, w db.Writer, ctx access.Context, p SharesPayload) (any, error) {
		return done(app.Ledger.Burn(w, ctx, p.Holder, orZero(p.Amount)))
	}),
	KindRegisterPool: handle(func(app *Appchain, w db.Writer, ctx access.Context, p ledger.Pool) (any, error) {
		return done(app.Ledger.RegisterPool(w, ctx, p))
	}),
	KindRemovePool: handle(func(app *Appchain, w db.Writer, ctx access.Context, p PoolIDPayload) (any, error) {
		return done(app.Ledger.RemovePool(w, ctx, p.ID))
	}),
	KindFundLpAccount: handle(func(app *Appchain, w db.Writer, ctx access.Context, p PoolsPayload) (any, error) {
		return app.Ledger.FundLpAccount(w, ctx, p.Pools)
	}),
	KindWithdrawFromLpAccount: handle(func(app *Appchain, w db.Writer, ctx access.Context, p PoolsPayload) (any, error) {
		return app.Ledger.WithdrawFromLpAccount(w, ctx, p.Pools)
	}),
	KindEmergencyFundLpAccount: handle(func(app *Appchain, w db.Writer, ctx access.Context, p PoolsPayload) (any, error) {
		return app.Ledger.EmergencyFundLpAccount(w, ctx, p.Pools, p.Amounts)
	}),
	KindEmergencyWithdrawFromLpAccount: handle(func(app *Appchain, w db.Writer, ctx access.Context, p PoolsPayload) (any, error) {
		return app.Ledger.EmergencyWithdrawFromLpAccount(w, ctx, p.Pools, p.Amounts)
	}),

	KindRegisterZap: handle(func(app *Appchain, w db.Writer, ctx access.Context, p ZapPayload) (any, error) {
		return done(app.Catalogue.RegisterZap(w, ctx, p.Name, zaps.Policy{PrimaryWithdrawBlocked: p.PrimaryWithdrawBlocked}))
	}),
	KindRemoveZap: handle(func(app *Appchain, w db.Writer, ctx access.Context, p ZapPayload) (any, error) {
		return done(app.Catalogue.RemoveZap(w, ctx, p.Name))
	}),
	KindDeployStrategy: handle(func(app *Appchain, w db.Writer, ctx access.Context, p DeployPayload) (any, error) {
		return done(app.Catalogue.DeployStrategy(w, ctx, p.Name, p.Amounts))
	}),
	KindUnwindStrategy: handle(func(app *Appchain, w db.Writer, ctx access.Context, p UnwindPayload) (any, error) {
		return done(app.Catalogue.UnwindStrategy(w, ctx, p.Name, p.Amount, p.Index))
	}),
	KindClaim: handle(func(app *Appchain, w db.Writer, ctx access.Context, p ClaimPayload) (any, error) {
		return app.Catalogue.Claim(w, ctx, p.Names)
	}),
	KindRegisterMultipleRewardFees: handle(func(app *Appchain, w db.Writer, ctx access.Context, p RewardFeesPayload) (any, error) {
		return done(app.Catalogue.RegisterMultipleRewardFees(w, ctx, p.Tokens, p.Fees))
	}),
	KindRemoveRewardFee: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TokenPayload) (any, error) {
		return done(app.Catalogue.RemoveRewardFee(w, ctx, p.Token))
	}),
	KindSetTreasury: handle(func(app *Appchain, w db.Writer, ctx access.Context, p TreasuryPayload) (any, error) {
		return done(app.Catalogue.SetTreasury(w, ctx, p.Treasury))
	}),
	KindNotifyReward: handle(func(app *Appchain, w db.Writer, ctx access.Context, p NotifyRewardPayload) (any, error) {
		venue, ok := app.rewards[p.Venue]
		if !ok {
			return nil, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_VENUE", "%s", p.Venue.Hex())
		}

		return done(venue.NotifyReward(w, ctx, p.Account, p.Token, orZero(p.Amount)))
	}),
}

// Kinds lists every transaction kind the chain accepts.
func Kinds() []string {
	out := make([]string, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}

	slices.Sort(out)

	return out
}
