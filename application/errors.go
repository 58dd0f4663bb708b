package application

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ErrMissingConfig  = Error("missing configuration")
	ErrDuplicateTx    = Error("transaction already known")
	ErrTxNotFound     = Error("transaction not found")
	ErrBlockNotFound  = Error("block not found")
	ErrPoolFull       = Error("transaction pool full")
	ErrGenesisApplied = Error("genesis already applied")
)
