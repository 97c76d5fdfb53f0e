package store

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
