package logging

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrich_PushAndClose(t *testing.T) {
	ctx, scope := Enrich(context.Background(),
		P(PropCorrelationID, "abc"),
		P(PropUserID, "u1"),
	)

	props := PropertiesFromContext(ctx)
	require.Len(t, props, 2)
	assert.Equal(t, Property{Key: PropCorrelationID, Value: "abc"}, props[0])
	assert.Equal(t, Property{Key: PropUserID, Value: "u1"}, props[1])

	scope.Close()

	assert.Empty(t, PropertiesFromContext(ctx), "closed properties are invisible on the same context")
	assert.True(t, scope.Closed())
}

func TestEnrich_CloseIsIdempotent(t *testing.T) {
	ctx, scope := Enrich(context.Background(), P("k", "v"))

	scope.Close()
	scope.Close()

	assert.Empty(t, PropertiesFromContext(ctx))
}

func TestEnrich_NilScopeClose(t *testing.T) {
	var scope *Scope
	assert.NotPanics(t, scope.Close)
	assert.False(t, scope.Closed())
}

func TestEnrich_NoProperties(t *testing.T) {
	parent := context.Background()
	ctx, scope := Enrich(parent)
	defer scope.Close()

	assert.Equal(t, parent, ctx)
	assert.Nil(t, PropertiesFromContext(ctx))
}

func TestEnrich_NestedScopesShadowAndRestore(t *testing.T) {
	outer, outerScope := Enrich(context.Background(), P("k", "outer"), P("a", 1))
	defer outerScope.Close()

	inner, innerScope := Enrich(outer, P("k", "inner"))

	v, ok := PropertyValue(inner, "k")
	require.True(t, ok)
	assert.Equal(t, "inner", v)
	assert.Len(t, PropertiesFromContext(inner), 2)

	innerScope.Close()

	v, ok = PropertyValue(inner, "k")
	require.True(t, ok)
	assert.Equal(t, "outer", v, "closing the inner scope uncovers the outer value")

	v, _ = PropertyValue(outer, "k")
	assert.Equal(t, "outer", v, "the parent context never saw the inner value")
}

func TestEnrich_ClosingOuterHidesEverything(t *testing.T) {
	outer, outerScope := Enrich(context.Background(), P("a", 1))
	inner, innerScope := Enrich(outer, P("b", 2))
	defer innerScope.Close()

	outerScope.Close()

	props := PropertiesFromContext(inner)
	require.Len(t, props, 1)
	assert.Equal(t, "b", props[0].Key)
}

func TestEnrich_RunsOnPanicPath(t *testing.T) {
	var ctx context.Context

	func() {
		defer func() { _ = recover() }()
		var scope *Scope
		ctx, scope = Enrich(context.Background(), P("k", "v"))
		defer scope.Close()
		panic("boom")
	}()

	assert.Empty(t, PropertiesFromContext(ctx))
}

func TestEnrich_GoroutineOutlivingScopeSeesNothing(t *testing.T) {
	ctx, scope := Enrich(context.Background(), P(PropCorrelationID, "abc"))

	release := make(chan struct{})
	result := make(chan []Property, 1)
	go func() {
		<-release
		result <- PropertiesFromContext(ctx)
	}()

	scope.Close()
	close(release)

	assert.Empty(t, <-result)
}

func TestEnrich_ConcurrentRequestsDoNotLeak(t *testing.T) {
	const n = 64
	var wg sync.WaitGroup
	errs := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("req-%d", i)
			ctx, scope := Enrich(context.Background(), P(PropCorrelationID, id))
			defer scope.Close()

			for j := 0; j < 100; j++ {
				v, ok := PropertyValue(ctx, PropCorrelationID)
				if !ok || v != id {
					errs <- fmt.Sprintf("goroutine %d saw %v", i, v)
					return
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}
