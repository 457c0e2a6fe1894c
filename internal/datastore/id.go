package datastore

import "github.com/google/uuid"

// IDProvider issues primary keys for inserted rows.
type IDProvider interface {
	NewID() (string, error)
}

// Identifiable is implemented by rows whose primary key the table assigns.
type Identifiable interface {
	PrimaryID() string
	AssignID(id string)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
