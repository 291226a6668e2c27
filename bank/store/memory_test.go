package store_test

import (
	"testing"

	"github.com/warp/deposit-engine/bank"
	"github.com/warp/deposit-engine/bank/store"
	"github.com/warp/deposit-engine/bank/storetest"
)

func TestMemory_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) bank.TxStore {
		return store.NewMemory()
	}, nil)
}
