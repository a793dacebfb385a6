package emulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jacobin-thx/G474-bootloader/internal/bootloader"
	"github.com/jacobin-thx/G474-bootloader/internal/config"
	"github.com/jacobin-thx/G474-bootloader/internal/device"
	"github.com/jacobin-thx/G474-bootloader/internal/flash"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
	"github.com/rs/zerolog"
)

var ErrBusy = errors.New("emulator is serving another session")

// Options configures an Emulator.
type Options struct {
	StatePath   string // CBOR flash snapshot; empty keeps flash in memory only
	MaxSessions int    // concurrent WebSocket sessions, default 1
	Logger      zerolog.Logger
}

// Emulator runs the bootloader core on a simulated chip.
type Emulator struct {
	profile   *config.Config
	memory    *flash.Memory
	device    *device.Simulator
	statePath string
	log       zerolog.Logger

	slots  chan struct{}
	saveMu sync.Mutex
}

// New builds the simulated chip described by profile and restores its flash
// from opts.StatePath when the file exists.
func New(profile *config.Config, opts Options) (*Emulator, error) {
	if err := config.Validate(profile); err != nil {
		return nil, err
	}
	config.Normalize(profile)

	mem, err := flash.NewMemory(profile.Geometry())
	if err != nil {
		return nil, err
	}
	if opts.StatePath != "" {
		if err := mem.LoadFile(opts.StatePath); err != nil {
			return nil, fmt.Errorf("failed to load flash state: %w", err)
		}
	}

	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 1
	}
	slots := make(chan struct{}, opts.MaxSessions)
	for i := 0; i < opts.MaxSessions; i++ {
		slots <- struct{}{}
	}

	e := &Emulator{
		profile:   profile,
		memory:    mem,
		device:    device.NewSimulator(profile.Simulator(), mem),
		statePath: opts.StatePath,
		log:       opts.Logger,
		slots:     slots,
	}
	e.device.OnStart(func(v device.Vector) {
		e.log.Info().
			Str("sp", fmt.Sprintf("0x%08X", v.StackPointer)).
			Str("pc", fmt.Sprintf("0x%08X", v.ResetHandler)).
			Msg("Application started")
	})
	return e, nil
}

// Memory returns the simulated flash.
func (e *Emulator) Memory() *flash.Memory {
	return e.memory
}

// Device returns the simulated chip.
func (e *Emulator) Device() *device.Simulator {
	return e.device
}

func (e *Emulator) options(log zerolog.Logger) []bootloader.Option {
	opts := []bootloader.Option{
		bootloader.WithLogger(log),
		bootloader.WithTimeouts(e.profile.CommandTimeout(), e.profile.EraseCountTimeout(), e.profile.RecordTimeout()),
		bootloader.WithReadyBeacon(e.profile.Options.ReadyBeacon),
		bootloader.WithVerify(e.profile.Options.Verify),
		bootloader.WithStatusIndicator(e.device),
	}
	if e.profile.Options.StartApplication {
		opts = append(opts, bootloader.WithStartApplication(e.device))
	}
	return opts
}

// Serve runs one bootloader session on link until ctx is done, the
// application is started or the link closes. The flash state is saved
// when the session ends.
func (e *Emulator) Serve(ctx context.Context, link transport.Transport, log zerolog.Logger) error {
	bl, err := bootloader.New(link, e.memory, e.device, e.profile.Geometry(), e.options(log)...)
	if err != nil {
		return err
	}

	err = bl.Run(ctx)
	if errors.Is(err, transport.ErrClosed) || errors.Is(err, context.Canceled) {
		err = nil
	}

	if saveErr := e.save(); saveErr != nil {
		log.Error().Err(saveErr).Msg("Failed to save flash state")
		if err == nil {
			err = saveErr
		}
	}
	return err
}

// ServeSerial opens portName and serves the bootloader on it.
func (e *Emulator) ServeSerial(ctx context.Context, portName string, baudRate int) error {
	port, err := transport.Open(portName, baudRate)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	defer port.Close()

	e.log.Info().Str("port", portName).Int("baud", baudRate).Msg("Emulating bootloader on serial port")
	return e.Serve(ctx, port, e.log.With().Str("port", portName).Logger())
}

// Handler serves bootloader sessions over WebSocket connections.
func (e *Emulator) Handler() http.Handler {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.slotAcquire() {
			http.Error(w, ErrBusy.Error(), http.StatusServiceUnavailable)
			return
		}
		defer e.slotRelease()

		ws, err := transport.AcceptWebSocket(upgrader, w, r)
		if err != nil {
			e.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected connection")
			return
		}
		defer ws.Close()

		log := e.log.With().Str("remote_addr", r.RemoteAddr).Logger()
		log.Debug().Msg("Accepted new connection")
		if err := e.Serve(r.Context(), ws, log); err != nil {
			log.Error().Err(err).Msg("Session error")
		}
	})
}

// ListenAndServe accepts WebSocket sessions on addr until ctx is done.
func (e *Emulator) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		// Shutdown server listener on context cancellation
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	e.log.Info().Str("addr", addr).Msg("Emulating bootloader on WebSocket listener")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (e *Emulator) save() error {
	if e.statePath == "" {
		return nil
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()
	return e.memory.SaveFile(e.statePath)
}

func (e *Emulator) slotAcquire() bool {
	select {
	case <-e.slots:
		return true
	default:
		return false
	}
}

func (e *Emulator) slotRelease() {
	e.slots <- struct{}{}
}
