package application

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/keeper"
	"github.com/0xAtelerix/yieldchain/application/ledger"
	"github.com/0xAtelerix/yieldchain/application/oracle"
	"github.com/0xAtelerix/yieldchain/application/venues"
)

const DefaultBlockInterval = 500 * time.Millisecond

//nolint:gochecknoglobals // derived once from fixed names
var (
	LedgerAddress        = contracts.SystemAddress("yieldchain.ledger")
	CatalogueAddress     = contracts.SystemAddress("yieldchain.zaps")
	TokenProviderAddress = contracts.SystemAddress("yieldchain.providers.erc20")
	GenesisAddress       = contracts.SystemAddress("yieldchain.genesis")
)

// Config describes the protocol instance: who the LP account is, how the oracle
// behaves, which venues exist and which zaps are bound to them.
type Config struct {
	LpAccount     common.Address `yaml:"lp_account"`
	BlockInterval time.Duration  `yaml:"block_interval"`
	// Feeder signs the keeper's oracle submissions.
	Feeder common.Address `yaml:"feeder"`

	Oracle oracle.Config `yaml:"oracle"`
	Keeper keeper.Config `yaml:"keeper"`
	Venues VenuesConfig  `yaml:"venues"`
}

func (c *Config) applyDefaults() {
	if c.BlockInterval == 0 {
		c.BlockInterval = DefaultBlockInterval
	}
}

type GaugeConfig struct {
	Address      common.Address   `yaml:"address"`
	Receipt      common.Address   `yaml:"receipt"`
	RewardTokens []common.Address `yaml:"reward_tokens"`
}

// StableSwapConfig is a stable-swap pool with its gauge. A zap of the same name
// is bound to it.
type StableSwapConfig struct {
	Name    string           `yaml:"name"`
	Address common.Address   `yaml:"address"`
	Coins   []common.Address `yaml:"coins"`
	LpToken common.Address   `yaml:"lp_token"`
	FeeBps  uint16           `yaml:"fee_bps"`
	Gauge   GaugeConfig      `yaml:"gauge"`
}

// MetaPoolConfig pairs Primary with the LP token of the stable-swap named Base.
type MetaPoolConfig struct {
	Name    string         `yaml:"name"`
	Address common.Address `yaml:"address"`
	Primary common.Address `yaml:"primary"`
	Base    string         `yaml:"base"`
	LpToken common.Address `yaml:"lp_token"`
	FeeBps  uint16         `yaml:"fee_bps"`
	Gauge   GaugeConfig    `yaml:"gauge"`
}

type LendingConfig struct {
	Name         string           `yaml:"name"`
	Address      common.Address   `yaml:"address"`
	Reserves     []venues.Reserve `yaml:"reserves"`
	RewardTokens []common.Address `yaml:"reward_tokens"`
}

type VenuesConfig struct {
	StableSwaps []StableSwapConfig `yaml:"stable_swaps"`
	MetaPools   []MetaPoolConfig   `yaml:"meta_pools"`
	Lending     []LendingConfig    `yaml:"lending"`
}

// Genesis is the initial state written once into an empty database.
type Genesis struct {
	// Roles maps role names to their holders.
	Roles  map[string][]common.Address `yaml:"roles"`
	Tokens []GenesisToken              `yaml:"tokens"`
	// TrackedTokens are registered with the token-balance provider.
	TrackedTokens []common.Address `yaml:"tracked_tokens"`
	Pools         []ledger.Pool    `yaml:"pools"`
	Zaps          []GenesisZap     `yaml:"zaps"`
	RewardFees    []GenesisFee     `yaml:"reward_fees"`
	Treasury      common.Address   `yaml:"treasury"`
	// Prices seeds oracle source prices, 8 decimals.
	Prices map[common.Address]*uint256.Int `yaml:"prices"`
}

type GenesisToken struct {
	Address  common.Address                  `yaml:"address"`
	Symbol   string                          `yaml:"symbol"`
	Decimals uint8                           `yaml:"decimals"`
	Balances map[common.Address]*uint256.Int `yaml:"balances"`
}

type GenesisZap struct {
	Name                   string `yaml:"name"`
	PrimaryWithdrawBlocked bool   `yaml:"primary_withdraw_blocked"`
}

type GenesisFee struct {
	Token common.Address `yaml:"token"`
	Bps   uint16         `yaml:"bps"`
}
