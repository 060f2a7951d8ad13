package irq

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutexGuard(t *testing.T) {
	g := NewGuard()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 1000; n++ {
				Do(g, func() { counter++ })
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 8000, counter)
}

func TestGuardFuncs(t *testing.T) {
	var calls []string
	g := GuardFuncs{
		DisableFunc: func() { calls = append(calls, "disable") },
		EnableFunc:  func() { calls = append(calls, "enable") },
	}
	Do(g, func() { calls = append(calls, "body") })
	require.Equal(t, []string{"disable", "body", "enable"}, calls)

	// zero value is usable
	Do(GuardFuncs{}, func() {})
	Do(Nop, func() {})
}
