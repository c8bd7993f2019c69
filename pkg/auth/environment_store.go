package auth

import (
	"os"
	"time"
)

// EnvToken is the environment variable holding the discovery token.
const EnvToken = "MASTODB_DISCOVERY_TOKEN"

// EnvironmentStore implements CredentialStore over EnvToken. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "environment" }

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(cred *Credential) error {
	return ErrStoreUnavailable
}

// Retrieve returns the token from the environment under any name
func (e *EnvironmentStore) Retrieve(name string) (*Credential, error) {
	token := os.Getenv(EnvToken)
	if token == "" {
		return nil, ErrCredentialsNotFound
	}
	if name == "" {
		name = DefaultName
	}
	return &Credential{Name: name, Token: token, LastModified: time.Now()}, nil
}

// List returns a single credential if the variable is set
func (e *EnvironmentStore) List() ([]*Credential, error) {
	cred, err := e.Retrieve("")
	if err != nil {
		return []*Credential{}, nil
	}
	return []*Credential{cred}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}

// Exists checks if the variable is set
func (e *EnvironmentStore) Exists(name string) bool {
	return os.Getenv(EnvToken) != ""
}
