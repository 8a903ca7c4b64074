package memory_test

import (
	"testing"

	"github.com/aussiebroadwan/sessionguard/internal/store/drivers/memory"
	"github.com/aussiebroadwan/sessionguard/internal/store/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, memory.NewStore())
}
