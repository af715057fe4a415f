package ports

import (
	"github.com/vulpemventures/vault-cosigner/internal/core/domain"
)

type VaultEventHandler func(event domain.VaultEvent)

// RepoManager is the abstraction for any kind of service intended to manage
// domain repositories implementations of the same concrete type.
type RepoManager interface {
	// VaultRepository returns the vault repository.
	VaultRepository() domain.VaultRepository

	// RegisterHandlerForVaultEvent registers an handler function, executed
	// whenever the given event type occurs.
	RegisterHandlerForVaultEvent(
		eventType domain.VaultEventType, handler VaultEventHandler,
	)

	// Close closes the connection with all concrete repositories
	// implementations.
	Close()
}
