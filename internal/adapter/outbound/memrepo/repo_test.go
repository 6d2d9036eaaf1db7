package memrepo_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/i2y/oapimcp/internal/adapter/outbound/memrepo"
	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/usecase"
)

func newTestStore() *memrepo.RegistryStore {
	return memrepo.NewRegistryStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buildRegistry(ids ...string) *usecase.Registry {
	spec := domain.APISpec{Title: "Pets"}
	for _, id := range ids {
		spec.Operations = append(spec.Operations, domain.OperationSpec{OperationID: id, Method: "POST", Path: "/" + id})
	}
	return usecase.BuildRegistry(spec, usecase.BuildOptions{APIName: "pets"}, func(h domain.Handle) usecase.InvokeFunc {
		return func(context.Context, map[string]any) domain.InvocationResult {
			return domain.InvocationResult{Handle: h.Name, State: domain.StateCompleted}
		}
	})
}

func TestRegistryStore_Swap(t *testing.T) {
	s := newTestStore()
	assert.Nil(t, s.Current())

	first := buildRegistry("addPet")
	assert.Nil(t, s.Swap(first))
	assert.Same(t, first, s.Current())

	second := buildRegistry("addPet", "updatePet")
	prev := s.Swap(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, s.Current())
	assert.Equal(t, 2, s.Current().Len())

	assert.Same(t, second, s.Swap(nil))
	assert.Nil(t, s.Current())
}

func TestRegistryStore_ConcurrentReadersSeeWholeRegistries(t *testing.T) {
	s := newTestStore()
	small := buildRegistry("a")
	large := buildRegistry("a", "b", "c")
	s.Swap(small)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				reg := s.Current()
				if !assert.NotNil(t, reg) {
					return
				}
				n := reg.Len()
				assert.True(t, n == 1 || n == 3, "observed partial registry with %d handles", n)
			}
		}()
	}
	for i := 0; i < 200; i++ {
		if i%2 == 0 {
			s.Swap(large)
		} else {
			s.Swap(small)
		}
	}
	close(stop)
	wg.Wait()
}
