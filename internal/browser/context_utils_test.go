package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("InheritsValuesFromPrimary", func(t *testing.T) {
		ctx1 := context.WithValue(context.Background(), key, "tab")
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		assert.Equal(t, "tab", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledByPrimary", func(t *testing.T) {
		ctx1, cancel1 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(ctx1, context.Background())
		defer cancel()

		cancel1()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("CancelledBySecondary", func(t *testing.T) {
		ctx2, cancel2 := context.WithCancel(context.Background())
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		cancel2()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("SecondaryDeadline", func(t *testing.T) {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel2()
		combined, cancel := CombineContext(context.Background(), ctx2)
		defer cancel()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context outlived the secondary deadline")
		}
	})
}
