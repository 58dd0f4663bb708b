package db

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ledgerwatch/erigon-lib/kv"
)

const (
	AccountsBucket       = "appaccounts"    // token+account -> value
	SupplyBucket         = "tokensupply"    // token -> total supply
	TokenMetaBucket      = "tokenmeta"      // token -> symbol, decimals
	RolesBucket          = "roles"          // role+account -> 1
	AllocationsBucket    = "allocations"    // allocation id -> allocation record
	ProviderTokensBucket = "providertokens" // provider+token -> symbol, decimals
	SetMembersBucket     = "setmembers"     // scope+seq -> member
	SetIndexBucket       = "setindex"       // scope+member -> seq
	OracleBucket         = "oracle"         // lock, overrides, sources
	ShareBalancesBucket  = "sharebalances"  // holder -> share balance, supply under SupplyKey
	PoolsBucket          = "pools"          // pool id -> pool record
	ZapsBucket           = "zaps"           // zap name -> zap record
	RewardFeesBucket     = "rewardfees"     // reward token -> fee in bps
	VenuesBucket         = "venues"         // venue+field -> venue state
	ProtocolBucket       = "protocolconfig" // treasury and other protocol parameters
	MetaBucket           = "meta"           // counters, genesis marker, chain head
	ReceiptsBucket       = "receipts"       // tx hash -> receipt
	TransactionsBucket   = "transactions"   // tx hash -> transaction
	BlocksBucket         = "blocks"         // block number -> block
	PendingTxBucket      = "txpool"         // arrival seq -> pending transaction
	PendingIndexBucket   = "txpoolindex"    // tx hash -> arrival seq
)

// SupplyKey holds the share ledger total supply inside ShareBalancesBucket. It is
// shorter than any holder key, so it never collides with a balance entry.
var SupplyKey = []byte("supply")

func Tables() kv.TableCfg {
	return kv.TableCfg{
		AccountsBucket:       {},
		SupplyBucket:         {},
		TokenMetaBucket:      {},
		RolesBucket:          {},
		AllocationsBucket:    {},
		ProviderTokensBucket: {},
		SetMembersBucket:     {},
		SetIndexBucket:       {},
		OracleBucket:         {},
		ShareBalancesBucket:  {},
		PoolsBucket:          {},
		ZapsBucket:           {},
		RewardFeesBucket:     {},
		VenuesBucket:         {},
		ProtocolBucket:       {},
		MetaBucket:           {},
		ReceiptsBucket:       {},
		TransactionsBucket:   {},
		BlocksBucket:         {},
		PendingTxBucket:      {},
		PendingIndexBucket:   {},
	}
}

// AccountKey is the balance key of account in token.
func AccountKey(account common.Address, token common.Address) []byte {
	key := make([]byte, 0, 2*common.AddressLength)
	key = append(key, token.Bytes()...)

	return append(key, account.Bytes()...)
}

// RoleKey is the membership key of account in role.
func RoleKey(role byte, account common.Address) []byte {
	key := make([]byte, 0, 1+common.AddressLength)
	key = append(key, role)

	return append(key, account.Bytes()...)
}

// VenueKey namespaces a venue's state field, optionally per account.
func VenueKey(venue common.Address, field string, account ...common.Address) []byte {
	key := make([]byte, 0, 2*common.AddressLength+len(field)+1)
	key = append(key, venue.Bytes()...)
	key = append(key, field...)

	if len(account) > 0 {
		key = append(key, '/')
		key = append(key, account[0].Bytes()...)
	}

	return key
}

// BlockKey encodes a block number so that keys sort by height.
func BlockKey(number uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], number)

	return key[:]
}
