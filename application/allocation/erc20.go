package allocation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/0xAtelerix/yieldchain/application/access"
	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/contracts"
	"github.com/0xAtelerix/yieldchain/application/db"
)

// Erc20Entry is one token tracked by a TokenProvider.
type Erc20Entry struct {
	Token    common.Address `cbor:"1,keyasint" json:"token"`
	Symbol   string         `cbor:"2,keyasint" json:"symbol"`
	Decimals uint8          `cbor:"3,keyasint" json:"decimals"`
}

// TokenProvider tracks plain token balances. Liquidity providers may register a
// token with manual metadata; protocol components may only register by address,
// in which case the metadata is read from the token itself.
type TokenProvider struct {
	address  common.Address
	calls    *contracts.Dispatcher
	registry *Registry
	tokens   db.Set
}

var _ Provider = (*TokenProvider)(nil)

// NewTokenProvider creates the provider and binds it at address.
func NewTokenProvider(address common.Address, calls *contracts.Dispatcher, registry *Registry) *TokenProvider {
	p := &TokenProvider{
		address:  address,
		calls:    calls,
		registry: registry,
		tokens:   db.NewSet(db.SetProviderTokens, address),
	}

	calls.Bind(address, p)

	return p
}

func (p *TokenProvider) Address() common.Address {
	return p.address
}

func (p *TokenProvider) Call(r db.Reader, input []byte) ([]byte, error) {
	return ServeProvider(r, input, p)
}

// RegisterToken tracks token with caller supplied metadata.
func (p *TokenProvider) RegisterToken(w db.Writer, ctx access.Context, token common.Address, symbol string, decimals uint8) error {
	if err := access.Require(w, ctx, access.RoleLp); err != nil {
		return err
	}

	return p.add(w, Erc20Entry{Token: token, Symbol: symbol, Decimals: decimals})
}

// RegisterTokenByAddress tracks token, reading symbol and decimals from it.
func (p *TokenProvider) RegisterTokenByAddress(w db.Writer, ctx access.Context, token common.Address) error {
	if err := access.Require(w, ctx, access.RoleLp, access.RoleContract); err != nil {
		return err
	}

	if token == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	registered, err := p.tokens.Has(w, token.Bytes())
	if err != nil || registered {
		return err
	}

	symbol, err := p.calls.CallString(w, token, contracts.ERC20ABI, "symbol")
	if err != nil {
		return err
	}

	decimals, err := p.calls.CallUint8(w, token, contracts.ERC20ABI, "decimals")
	if err != nil {
		return err
	}

	return p.add(w, Erc20Entry{Token: token, Symbol: symbol, Decimals: decimals})
}

func (p *TokenProvider) add(w db.Writer, e Erc20Entry) error {
	if e.Token == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	added, err := p.tokens.Add(w, e.Token.Bytes())
	if err != nil || !added {
		return err
	}

	if err := db.PutRecord(w, db.ProviderTokensBucket, p.entryKey(e.Token), e); err != nil {
		return err
	}

	return p.registry.Sync(w, p.address)
}

// RemoveToken stops tracking token. Unknown tokens fail with NotFound.
func (p *TokenProvider) RemoveToken(w db.Writer, ctx access.Context, token common.Address) error {
	if err := access.Require(w, ctx, access.RoleLp, access.RoleContract); err != nil {
		return err
	}

	removed, err := p.tokens.Remove(w, token.Bytes())
	if err != nil {
		return err
	}

	if !removed {
		return apperr.Newf(apperr.ErrNotFound, "UNKNOWN_TOKEN", "%s", token.Hex())
	}

	if err := w.Delete(db.ProviderTokensBucket, p.entryKey(token)); err != nil {
		return err
	}

	return p.registry.Sync(w, p.address)
}

// Tokens returns the tracked tokens in index order.
func (p *TokenProvider) Tokens(r db.Reader) ([]Erc20Entry, error) {
	members, err := p.tokens.Members(r)
	if err != nil {
		return nil, err
	}

	out := make([]Erc20Entry, 0, len(members))

	for _, m := range members {
		var e Erc20Entry

		if _, err := db.GetRecord(r, db.ProviderTokensBucket, p.entryKey(common.BytesToAddress(m)), &e); err != nil {
			return nil, err
		}

		out = append(out, e)
	}

	return out, nil
}

func (p *TokenProvider) IsRegistered(r db.Reader, token common.Address) (bool, error) {
	return p.tokens.Has(r, token.Bytes())
}

func (p *TokenProvider) NumberOfTokens(r db.Reader) (int, error) {
	return p.tokens.Len(r)
}

func (p *TokenProvider) SymbolOf(r db.Reader, index uint8) (string, error) {
	e, err := p.entry(r, index)

	return e.Symbol, err
}

func (p *TokenProvider) DecimalsOf(r db.Reader, index uint8) (uint8, error) {
	e, err := p.entry(r, index)

	return e.Decimals, err
}

// BalanceOf returns account's balance in the token at index.
func (p *TokenProvider) BalanceOf(r db.Reader, account common.Address, index uint8) (*uint256.Int, error) {
	e, err := p.entry(r, index)
	if err != nil {
		return nil, err
	}

	return p.calls.CallUint256(r, e.Token, contracts.ERC20ABI, "balanceOf", account)
}

func (p *TokenProvider) entry(r db.Reader, index uint8) (Erc20Entry, error) {
	entries, err := p.Tokens(r)
	if err != nil {
		return Erc20Entry{}, err
	}

	if err := CheckIndex(index, len(entries)); err != nil {
		return Erc20Entry{}, err
	}

	return entries[index], nil
}

func (p *TokenProvider) entryKey(token common.Address) []byte {
	key := make([]byte, 0, 2*common.AddressLength)
	key = append(key, p.address.Bytes()...)

	return append(key, token.Bytes()...)
}
