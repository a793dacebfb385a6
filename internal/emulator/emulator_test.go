package emulator

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jacobin-thx/G474-bootloader/internal/config"
	"github.com/jacobin-thx/G474-bootloader/internal/flasher"
	"github.com/jacobin-thx/G474-bootloader/internal/ihex"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
	"github.com/rs/zerolog"
)

// vectorImage is an application whose vector table points into SRAM.
func vectorImage() *ihex.Image {
	return &ihex.Image{Segments: []ihex.Segment{{
		Address: 0x08004000,
		Data:    []byte{0x00, 0x00, 0x02, 0x20, 0x99, 0x41, 0x00, 0x08, 0xDE, 0xAD, 0xBE, 0xEF},
	}}}
}

func serve(t *testing.T, e *Emulator) (*transport.PipeEnd, chan error) {
	t.Helper()
	host, dev := transport.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, dev, zerolog.Nop()) }()
	return host, done
}

func wait(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}
}

func TestServe_PersistsFlash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.cbor")

	e, err := New(config.Default(), Options{StatePath: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	host, done := serve(t, e)

	img := vectorImage()
	if err := flasher.New(host).FlashImage(img, e.profile.Geometry()); err != nil {
		t.Fatalf("FlashImage() error = %v", err)
	}
	host.Close()
	wait(t, done)

	restored, err := New(config.Default(), Options{StatePath: path})
	if err != nil {
		t.Fatalf("New() from saved state error = %v", err)
	}
	got, _ := restored.Memory().Read(0x08004000, 12)
	if !bytes.Equal(got, img.Segments[0].Data) {
		t.Errorf("restored flash = % X, want % X", got, img.Segments[0].Data)
	}
}

func TestServe_StartApplication(t *testing.T) {
	profile := config.Default()
	profile.Options.StartApplication = true

	e, err := New(profile, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	host, done := serve(t, e)
	defer host.Close()

	f := flasher.New(host)
	if err := f.FlashImage(vectorImage(), profile.Geometry()); err != nil {
		t.Fatalf("FlashImage() error = %v", err)
	}
	if err := f.StartApplication(); err != nil {
		t.Fatalf("StartApplication() error = %v", err)
	}
	wait(t, done)

	v, ok := e.Device().Started()
	if !ok || v.StackPointer != 0x20020000 || v.ResetHandler != 0x08004199 {
		t.Errorf("Started() = %+v, %v, want SP 0x20020000 PC 0x08004199", v, ok)
	}
	if _, toggles := e.Device().LED(); toggles == 0 {
		t.Error("status LED never toggled")
	}
}

func TestNew_InvalidProfile(t *testing.T) {
	profile := config.Default()
	profile.Flash.PageSize = 1004

	if _, err := New(profile, Options{}); err == nil {
		t.Error("New() with invalid page size expected error, got nil")
	}
}

func TestHandler_WebSocket(t *testing.T) {
	e, err := New(config.Default(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	srv := httptest.NewServer(e.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ws, err := transport.DialWebSocket(url, "", "", false)
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer ws.Close()

	id, err := flasher.New(ws).Identify()
	if err != nil {
		t.Fatalf("Identify() error = %v", err)
	}
	if id != 0x469 {
		t.Errorf("Identify() = 0x%03X, want 0x469", id)
	}

	// The only slot is taken by the first connection
	if second, err := transport.DialWebSocket(url, "", "", false); err == nil {
		second.Close()
		t.Error("second DialWebSocket() expected busy error, got nil")
	}
}
