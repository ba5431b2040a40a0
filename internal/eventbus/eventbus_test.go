package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mypoolr/roscacore/internal/model"
)

func TestPublish_DeliversToAllSubscribersOfKind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()

	var mu sync.Mutex
	var gotA, gotB []model.Event
	done := make(chan struct{}, 2)

	b.Subscribe(ctx, model.EventRotationAdvanced, func(_ context.Context, evt model.Event) {
		mu.Lock()
		gotA = append(gotA, evt)
		mu.Unlock()
		done <- struct{}{}
	})
	b.Subscribe(ctx, model.EventRotationAdvanced, func(_ context.Context, evt model.Event) {
		mu.Lock()
		gotB = append(gotB, evt)
		mu.Unlock()
		done <- struct{}{}
	})

	groupID := model.NewGroupID()
	b.Publish(model.Event{Kind: model.EventRotationAdvanced, GroupID: groupID, EmittedAt: time.Now()})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for subscriber delivery")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	require.Equal(t, groupID, gotA[0].GroupID)
}

func TestPublish_DoesNotDeliverToOtherKinds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()

	received := make(chan model.Event, 1)
	b.Subscribe(ctx, model.EventGroupHalted, func(_ context.Context, evt model.Event) {
		received <- evt
	})

	b.Publish(model.Event{Kind: model.EventRotationAdvanced, GroupID: model.NewGroupID(), EmittedAt: time.Now()})

	select {
	case <-received:
		t.Fatal("subscriber for GroupHalted should not receive a RotationAdvanced event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_NonBlockingOnFullBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := New()

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	b.Subscribe(ctx, model.EventCycleClosed, func(_ context.Context, _ model.Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
	})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(model.Event{Kind: model.EventCycleClosed, GroupID: model.NewGroupID(), EmittedAt: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked despite a full, stalled subscriber buffer")
	}
	close(block)
}
