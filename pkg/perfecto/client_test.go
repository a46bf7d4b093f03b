package perfecto

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/httprunner/DevicePool/pkg/device"
	"github.com/pkg/errors"
)

const handsetsXML = `<?xml version="1.0" encoding="UTF-8"?>
<handsets>
  <handset>
    <deviceId>abc123</deviceId>
    <manufacturer>Apple</manufacturer>
    <model>iPhone12</model>
    <os>iOS</os>
    <osVersion>16.1</osVersion>
  </handset>
  <handset>
    <deviceId></deviceId>
    <model>Broken</model>
  </handset>
</handsets>`

func TestListAllocatedDevices(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/handsets" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(handsetsXML))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "token-1", "qa@example.com", time.Second)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	handsets, err := client.ListAllocatedDevices(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(handsets) != 1 {
		t.Fatalf("expected 1 valid handset, got %d", len(handsets))
	}
	h := handsets[0]
	if h.DeviceName() != "iphone12_abc123" {
		t.Fatalf("unexpected device name %s", h.DeviceName())
	}
	if h.Platform() != device.PlatformIOS {
		t.Fatalf("unexpected platform %s", h.Platform())
	}
	for _, want := range []string{"operation=list", "securityToken=token-1", "allocatedTo=qa%40example.com"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestListAllocatedDevicesSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`<response><errorMessage>invalid token</errorMessage></response>`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, "bad", "", time.Second)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	_, err = client.ListAllocatedDevices(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid token" {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestListAllocatedDevicesTimesOut(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	client, err := NewClient(srv.URL, "token", "", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if _, err := client.ListAllocatedDevices(context.Background()); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestNewClientRequiresSettings(t *testing.T) {
	if _, err := NewClient("", "token", "", 0); err == nil {
		t.Fatal("expected missing url error")
	}
	if _, err := NewClient("https://demo.perfectomobile.com", "", "", 0); err == nil {
		t.Fatal("expected missing token error")
	}
}
