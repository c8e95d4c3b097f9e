package core

import (
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotConfigured = NewConfigError("Configuration Manquante : L'application n'est pas connectée au Backend.")

	// user-facing messages
	msgUnreachable       = "Impossible de joindre le serveur. Vérifiez votre connexion."
	msgInvalidLogin      = "Email ou mot de passe incorrect."
	msgUserExists        = "Cet utilisateur existe déjà."
	msgUniqueConstraint  = "Conflit de données (Email/Tél déjà utilisé)."
	msgPasswordTooShort  = "Le mot de passe doit contenir au moins 6 caractères."
	msgUnexpected        = "Une erreur inattendue est survenue."
	passwordLengthSignal = "password should be at least"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// ConfigError reports a backing service that is missing or misconfigured.
type ConfigError struct {
	message string
}

func NewConfigError(msg string) error {
	return &ConfigError{message: msg}
}

func (err ConfigError) Error() string {
	return err.message
}

func IsConfigError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigError)
	return ok
}

// TransportError wraps a failed round-trip to the backing service.
type TransportError struct {
	Op  string
	Err error
}

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func (err TransportError) Error() string {
	return err.Op + ": failed to fetch: " + err.Err.Error()
}

func IsTransportError(err error) bool {
	_, ok := errors.Cause(err).(*TransportError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

// UserMessage translates an error into the message shown to residents.
// Only a few known patterns are recognised, anything else is returned as is.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	cause := errors.Cause(err)
	switch cause.(type) {
	case *ConfigError:
		return cause.Error()
	case *TransportError:
		return msgUnreachable
	case *ValidationError:
		return cause.Error()
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "failed to fetch"):
		return msgUnreachable
	case strings.Contains(msg, "invalid login credentials"):
		return msgInvalidLogin
	case strings.Contains(msg, "user already registered"):
		return msgUserExists
	case strings.Contains(msg, "violates unique constraint"), strings.Contains(msg, "duplicate key"):
		return msgUniqueConstraint
	case strings.Contains(msg, passwordLengthSignal):
		return msgPasswordTooShort
	case msg == "":
		return msgUnexpected
	}
	return err.Error()
}
