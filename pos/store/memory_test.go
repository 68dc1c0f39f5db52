package store_test

import (
	"testing"

	"github.com/EricCamachoDM/caixa-festa/pos"
	"github.com/EricCamachoDM/caixa-festa/pos/store"
	"github.com/EricCamachoDM/caixa-festa/pos/storetest"
)

func newMemory(*testing.T) pos.TxStore { return store.NewMemory() }

func TestMemory_Contract(t *testing.T) {
	storetest.Run(t, newMemory)
}

func TestMemory_Service(t *testing.T) {
	storetest.RunService(t, newMemory)
}
