package optin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-doubleoptin/internal/domain"
	"github.com/go-doubleoptin/internal/pkg/validate"
)

// RecipientValidator vets a resolved recipient address. Returning an error
// wrapping domain.ErrDuplicateEmail reports a duplicate registration; any
// other error text is shown to the submitter.
type RecipientValidator func(ctx context.Context, email string, fd *domain.FormData, p domain.FormParameter) error

// AddValidator appends a validator to the chain run by CreateOptIn.
func (e *Engine) AddValidator(v RecipientValidator) {
	e.validators = append(e.validators, v)
}

func (e *Engine) validateFormat(_ context.Context, email string, _ *domain.FormData, _ domain.FormParameter) error {
	if !validate.Email(email) {
		return errors.New("The email address is not valid.")
	}
	return nil
}

func (e *Engine) validateMX(_ context.Context, email string, _ *domain.FormData, p domain.FormParameter) error {
	if !p.CheckMX {
		return nil
	}
	host := email[strings.LastIndex(email, "@")+1:]
	records, err := e.lookupMX(host)
	if err != nil || len(records) == 0 {
		return fmt.Errorf("The domain %s does not accept email.", host)
	}
	return nil
}

// validateUnique only counts confirmed, not opted-out registrations, so a
// pending or withdrawn address may submit again.
func (e *Engine) validateUnique(ctx context.Context, email string, fd *domain.FormData, p domain.FormParameter) error {
	if !p.UniqueEmail {
		return nil
	}
	exists, err := e.repo.ExistsByEmailAndFormID(ctx, email, fd.FormID(), true)
	if err != nil {
		e.log.Warn("unique email check", "form_id", fd.FormID(), "err", err)
		return nil
	}
	if exists {
		return domain.ErrDuplicateEmail
	}
	return nil
}
