package model

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidIdentity = goerr.New("invalid identity")
)

type IdentityID string

// NewIdentityID generates a new unique IdentityID
func NewIdentityID() IdentityID {
	return IdentityID(uuid.New().String())
}

func (x IdentityID) String() string {
	return string(x)
}

// Embedding is a face descriptor produced by the detection model
type Embedding []float32

// Distance returns Euclidean distance between two embeddings. The second
// return value is false when dimensions differ and the vectors are not comparable.
func (e Embedding) Distance(other Embedding) (float64, bool) {
	if len(e) != len(other) || len(e) == 0 {
		return 0, false
	}

	var sum float64
	for i := range e {
		d := float64(e[i]) - float64(other[i])
		sum += d * d
	}
	return math.Sqrt(sum), true
}

// Identity is an enrolled person with one or more reference embeddings
type Identity struct {
	ID          IdentityID
	Name        string
	DateOfBirth *time.Time
	Embeddings  []Embedding

	// GreetingAudio is filled lazily by the greeting cache after the first
	// successful synthesis and never expires.
	GreetingAudio *Audio

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dimension returns the dimensionality of the reference embeddings, or 0 when there are none
func (x *Identity) Dimension() int {
	if len(x.Embeddings) == 0 {
		return 0
	}
	return len(x.Embeddings[0])
}

// Validate checks if the identity can be safely stored and matched against
func (x *Identity) Validate() error {
	if x.ID == "" {
		return goerr.Wrap(ErrInvalidIdentity, "identity ID is empty")
	}
	if x.Name == "" {
		return goerr.Wrap(ErrInvalidIdentity, "name is empty", goerr.V("id", x.ID))
	}
	if len(x.Embeddings) == 0 {
		return goerr.Wrap(ErrInvalidIdentity, "no embeddings", goerr.V("id", x.ID))
	}

	dim := len(x.Embeddings[0])
	if dim == 0 {
		return goerr.Wrap(ErrInvalidIdentity, "embedding is empty", goerr.V("id", x.ID))
	}
	for i, emb := range x.Embeddings {
		if len(emb) != dim {
			return goerr.Wrap(ErrInvalidIdentity, "embedding dimension mismatch",
				goerr.V("id", x.ID),
				goerr.V("index", i),
				goerr.V("expected", dim),
				goerr.V("actual", len(emb)))
		}
	}

	return nil
}

// Age returns the age in whole years at the given time. Infants are 0. ok is
// false when the date of birth is unknown or later than now.
func (x *Identity) Age(now time.Time) (age int, ok bool) {
	if x.DateOfBirth == nil || x.DateOfBirth.After(now) {
		return 0, false
	}

	dob := *x.DateOfBirth
	age = now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		age--
	}
	return age, true
}
