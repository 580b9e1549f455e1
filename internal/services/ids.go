package services

import (
	"time"

	"github.com/dndchat/lmchat/internal/models"
	"github.com/oklog/ulid/v2"
)

// prepareEntry assigns the time and a ULID id to a new entry. ULIDs sort by time, so both stores
// can order a conversation by id alone.
func prepareEntry(e models.Entry) models.Entry {
	if e.MessageTime.IsZero() {
		e.MessageTime = time.Now()
	}
	e.MessageTime = e.MessageTime.UTC().Truncate(time.Millisecond)
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(e.MessageTime), ulid.DefaultEntropy()).String()
	}
	return e
}
