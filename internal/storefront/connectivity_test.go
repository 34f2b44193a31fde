package storefront

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManualConnectivity(t *testing.T) {
	m := NewManualConnectivity(true)
	var got []bool
	unsub := m.Subscribe(func(v bool) { got = append(got, v) })

	m.Set(true) // no change
	m.Set(false)
	m.Set(true)
	unsub()
	unsub()
	m.Set(false)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("notifications: %v", got)
	}
	if m.Subscribers() != 0 {
		t.Fatalf("subscribers: %d", m.Subscribers())
	}
	ok, err := m.Connected(context.Background())
	if err != nil || ok {
		t.Fatalf("connected=%v err=%v", ok, err)
	}
}

func TestProbeMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe method %s", r.Method)
		}
		w.WriteHeader(http.StatusServiceUnavailable) // any answer means reachable
	}))
	url := srv.URL

	m := NewProbeMonitor(url, srv.Client(), 0, time.Second)
	defer m.Close()

	changes := make(chan bool, 4)
	defer m.Subscribe(func(v bool) { changes <- v })()

	ctx := context.Background()
	ok, err := m.Connected(ctx)
	if err != nil || !ok {
		t.Fatalf("connected=%v err=%v", ok, err)
	}
	select {
	case v := <-changes:
		t.Fatalf("first observation notified %v", v)
	default:
	}

	srv.Close()
	ok, err = m.Connected(ctx)
	if err != nil || ok {
		t.Fatalf("after close: connected=%v err=%v", ok, err)
	}
	select {
	case v := <-changes:
		if v {
			t.Fatal("want offline notification")
		}
	default:
		t.Fatal("no notification on change")
	}
}

func TestProbeMonitorLoop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	client := srv.Client()

	m := NewProbeMonitor(url, client, 10*time.Millisecond, time.Second)
	defer m.Close()
	changes := make(chan bool, 16)
	m.Subscribe(func(v bool) {
		select {
		case changes <- v:
		default:
		}
	})

	if ok, _ := m.Connected(context.Background()); !ok {
		t.Fatal("want connected")
	}
	srv.Close()

	select {
	case v := <-changes:
		if v {
			t.Fatal("want offline")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background probe did not notice the outage")
	}
}
