package catalogstore

import "github.com/gear6io/icecatalog/pkg/errors"

var (
	ErrNotFound      = errors.MustNewCode("catalogstore.not_found")
	ErrAlreadyExists = errors.MustNewCode("catalogstore.already_exists")
	ErrConflict      = errors.MustNewCode("catalogstore.conflict")
	ErrProtected     = errors.MustNewCode("catalogstore.protected")
	ErrConnection    = errors.MustNewCode("catalogstore.connection")
)

func IsNotFound(err error) bool {
	return errors.GetCode(err) == ErrNotFound.String()
}

func IsAlreadyExists(err error) bool {
	return errors.GetCode(err) == ErrAlreadyExists.String()
}

func IsConflict(err error) bool {
	return errors.GetCode(err) == ErrConflict.String()
}
