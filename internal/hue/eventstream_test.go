package hue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/ambilightd/internal/eventbus"
)

func TestEventStream_PublishesEntertainmentStatus(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eventstream/clip/v2" || r.Header.Get("hue-application-key") != "app-key" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": hi\n\n")
		fmt.Fprint(w, `data: [{"type":"update","data":[{"id":"light-1","type":"light","on":{"on":true}}]}]`+"\n\n")
		fmt.Fprint(w, `data: [{"type":"update","data":[{"id":"cfg-1","type":"entertainment_configuration","status":"active","active_streamer":{"rid":"app-1","rtype":"auth_v1"}}]}]`+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	got := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.EventTypeBridgeEntertainment, func(e eventbus.Event) { got <- e })

	client := NewClient(strings.TrimPrefix(srv.URL, "https://"), "app-key", time.Second)
	stream := NewEventStream(client, DefaultEventStreamConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, bus) }()

	select {
	case e := <-got:
		if e.Data["resource_id"] != "cfg-1" || e.Data["status"] != "active" || e.Data["owner"] != "app-1" {
			t.Errorf("event data = %v", e.Data)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no entertainment event published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
