package chatpdt

import (
	"errors"

	"github.com/Copilotuser-cyber/ChatPDT/internal/admin"
	pdterrors "github.com/Copilotuser-cyber/ChatPDT/internal/errors"
)

// ErrNoEngine is returned by Session.Reply when no completion engine is
// configured.
var ErrNoEngine = errors.New("no completion engine configured")

// Re-export shared errors so callers compare against a single symbol.
var (
	ErrNotFound   = pdterrors.ErrNotFound
	ErrValidation = pdterrors.ErrValidation
	ErrForbidden  = admin.ErrForbidden
)

// IsAuthorization reports whether err is a cloud authorization refusal.
func IsAuthorization(err error) bool { return pdterrors.IsAuthorization(err) }

// IsTransient reports whether err is a network or availability failure.
func IsTransient(err error) bool { return pdterrors.IsTransient(err) }

// IsSerialization reports whether a record could not be rendered as plain
// data.
func IsSerialization(err error) bool { return pdterrors.IsSerialization(err) }
