package directory

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"glovendor/internal/wallet"
)

var (
	ErrNotFound          = errors.New("directory: account not found")
	ErrInvalidIdentifier = errors.New("directory: invalid identifier")
)

// Lookup is implemented by the wallet stores.
type Lookup interface {
	GetAccount(ctx context.Context, id int64) (wallet.Account, error)
	AccountByEmail(ctx context.Context, email string) (wallet.Account, error)
}

// Directory resolves an email or numeric id to an account. Lookup only.
type Directory struct {
	lookup Lookup
}

func New(lookup Lookup) *Directory {
	return &Directory{lookup: lookup}
}

func (d *Directory) Resolve(ctx context.Context, identifier string) (wallet.Account, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return wallet.Account{}, ErrInvalidIdentifier
	}

	var (
		a   wallet.Account
		err error
	)
	if id, convErr := strconv.ParseInt(identifier, 10, 64); convErr == nil {
		if id <= 0 {
			return wallet.Account{}, ErrInvalidIdentifier
		}
		a, err = d.lookup.GetAccount(ctx, id)
	} else {
		if _, perr := mail.ParseAddress(identifier); perr != nil {
			return wallet.Account{}, ErrInvalidIdentifier
		}
		a, err = d.lookup.AccountByEmail(ctx, identifier)
	}
	if errors.Is(err, wallet.ErrAccountNotFound) {
		return wallet.Account{}, ErrNotFound
	}
	if err != nil {
		return wallet.Account{}, fmt.Errorf("resolve %q: %w", identifier, err)
	}
	return a, nil
}
