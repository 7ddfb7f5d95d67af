package firestore

import "github.com/secmon-lab/switchboard/pkg/domain/model"

// ErrNotFound is returned when a document does not exist
var ErrNotFound = model.ErrNotFound
