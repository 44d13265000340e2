package store_test

import (
	"testing"

	"bus-wait-tracker/internal/store"
	"bus-wait-tracker/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemory() })
}
