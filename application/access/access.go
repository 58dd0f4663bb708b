// Package access stores capability grants and checks them against an explicit
// authorization context passed into every mutating operation.
package access

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/0xAtelerix/yieldchain/application/apperr"
	"github.com/0xAtelerix/yieldchain/application/db"
)

type Role byte

const (
	// RoleAdmin registers and removes allocations, providers, pools, zaps and fees.
	RoleAdmin Role = iota + 1
	// RoleEmergency may override oracle values and move capital with explicit amounts.
	RoleEmergency
	// RoleLp operates strategies and may register tokens with manual metadata.
	RoleLp
	// RoleContract is held by protocol components acting on their own behalf.
	RoleContract
	// RoleCapitalRouter mints and burns shares and moves capital between pools and the LP account.
	RoleCapitalRouter
	// RoleOracleFeeder submits source values to the oracle.
	RoleOracleFeeder
)

var roleNames = map[Role]string{
	RoleAdmin:         "admin",
	RoleEmergency:     "emergency",
	RoleLp:            "lp",
	RoleContract:      "contract",
	RoleCapitalRouter: "capital-router",
	RoleOracleFeeder:  "oracle-feeder",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}

	return fmt.Sprintf("role(%d)", byte(r))
}

// ParseRole maps a role name to its Role.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}

	return 0, apperr.Newf(apperr.ErrNotFound, "UNKNOWN_ROLE", "%q", name)
}

// Context identifies who is calling.
type Context struct {
	Sender common.Address
}

func As(sender common.Address) Context {
	return Context{Sender: sender}
}

func Grant(w db.Writer, role Role, account common.Address) error {
	if account == (common.Address{}) {
		return apperr.New(apperr.ErrInvalidState, apperr.ReasonZeroAddress)
	}

	return w.Put(db.RolesBucket, db.RoleKey(byte(role), account), []byte{1})
}

func Revoke(w db.Writer, role Role, account common.Address) error {
	return w.Delete(db.RolesBucket, db.RoleKey(byte(role), account))
}

func Has(r db.Reader, role Role, account common.Address) (bool, error) {
	v, err := r.GetOne(db.RolesBucket, db.RoleKey(byte(role), account))
	if err != nil {
		return false, err
	}

	return len(v) > 0, nil
}

// Require passes when the sender holds any of roles.
func Require(r db.Reader, ctx Context, roles ...Role) error {
	for _, role := range roles {
		ok, err := Has(r, role, ctx.Sender)
		if err != nil {
			return err
		}

		if ok {
			return nil
		}
	}

	return apperr.Newf(apperr.ErrPermissionDenied, apperr.ReasonMissingRole, "%s needs %v", ctx.Sender.Hex(), roles)
}

// GrantRole is the admin-gated form of Grant.
func GrantRole(w db.Writer, ctx Context, role Role, account common.Address) error {
	if err := Require(w, ctx, RoleAdmin); err != nil {
		return err
	}

	return Grant(w, role, account)
}

// RevokeRole is the admin-gated form of Revoke.
func RevokeRole(w db.Writer, ctx Context, role Role, account common.Address) error {
	if err := Require(w, ctx, RoleAdmin); err != nil {
		return err
	}

	return Revoke(w, role, account)
}
