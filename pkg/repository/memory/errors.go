package memory

import "github.com/secmon-lab/switchboard/pkg/domain/model"

// ErrNotFound is returned when a record does not exist
var ErrNotFound = model.ErrNotFound
