package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sharegate/internal/db"
	"github.com/sharegate/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRecipientsAndRender(t *testing.T) {
	d := NewDispatcher(4, zerolog.Nop())
	share := db.Share{
		ShareID:  "s1",
		PostID:   "p1",
		Channel:  db.ChannelFriends,
		Targets:  []byte(`["f1","f2","u1","f1"]`),
		Message:  "look at **this** <script>alert(1)</script>",
		SharerID: "u1",
	}

	n, err := d.Build(share, db.PostSnapshot{ID: "p1", AuthorID: "author", Title: "Hello"}, service.SharerProfile{ID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2", "author"}, n.Recipients)
	assert.Contains(t, n.HTML, "<strong>this</strong>")
	assert.NotContains(t, n.HTML, "<script>")
	assert.Equal(t, "Hello", n.PostTitle)
}

func TestNotifyNeverBlocks(t *testing.T) {
	d := NewDispatcher(1, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(db.Share{ShareID: "s"}, db.PostSnapshot{}, service.SharerProfile{ID: "u1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}
	assert.Equal(t, 1, d.Pending())
}

func TestRunDeliversAndSurvivesSinkErrors(t *testing.T) {
	var (
		mu        sync.Mutex
		delivered []string
	)
	d := NewDispatcher(8, zerolog.Nop()).WithSink(func(_ context.Context, n Notification) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, n.ShareID)
		if n.ShareID == "s1" {
			return errors.New("push service down")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	post := db.PostSnapshot{ID: "p1", AuthorID: "author"}
	d.Notify(db.Share{ShareID: "s1", PostID: "p1", Channel: db.ChannelFeed}, post, service.SharerProfile{ID: "u1"})
	d.Notify(db.Share{ShareID: "s2", PostID: "p1", Channel: db.ChannelFeed}, post, service.SharerProfile{ID: "u2"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestRenderEmptyMessage(t *testing.T) {
	d := NewDispatcher(0, zerolog.Nop())
	out, err := d.Render("   ")
	require.NoError(t, err)
	assert.Empty(t, out)
}
