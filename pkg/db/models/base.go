package models

import (
	"github.com/google/uuid"
)

// assignID gives rows a client-side id so inserts do not depend on a database
// default.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
