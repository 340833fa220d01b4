package memstore

import (
	"testing"

	"github.com/tensorzero/curator/internal/storage"
	"github.com/tensorzero/curator/internal/storage/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return New() })
}
