package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/jacobin-thx/G474-bootloader/internal/config"
	"github.com/jacobin-thx/G474-bootloader/internal/detect"
	"github.com/jacobin-thx/G474-bootloader/internal/emulator"
	"github.com/jacobin-thx/G474-bootloader/internal/flasher"
	"github.com/jacobin-thx/G474-bootloader/internal/ihex"
	"github.com/jacobin-thx/G474-bootloader/internal/protocol"
	"github.com/jacobin-thx/G474-bootloader/internal/transport"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	portFlag     string
	baudFlag     int
	profileFlag  string
	verboseFlag  bool
	urlFlag      string
	userFlag     string
	insecureFlag bool
	chunkFlag    int
	startFlag    bool
	listenFlag   string
	stateFlag    string
	sessionsFlag int
)

var (
	profile *config.Config
	logger  zerolog.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "g474boot",
		Short: "Program STM32G474 devices through the serial bootloader",
		Long: `g474boot talks to the STM32G474 serial bootloader: it reads the device
identity, erases application flash, writes Intel HEX images and starts
the application. It can also emulate the bootloader on a simulated chip,
over a serial port or a WebSocket listener.

The STM32G474 dual-bank profile is embedded in this tool. Use --profile
to load another YAML device profile.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	rootCmd.PersistentFlags().StringVarP(&portFlag, "port", "p", "", "Serial port (auto-detect if not specified)")
	rootCmd.PersistentFlags().IntVarP(&baudFlag, "baud", "b", 0, "Baud rate (default from profile)")
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "YAML device profile (default: embedded STM32G474)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&urlFlag, "url", "", "WebSocket URL of a remote link (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "username", "u", "", "WebSocket basic auth username")
	rootCmd.PersistentFlags().BoolVar(&insecureFlag, "insecure", false, "Skip TLS certificate verification")

	idCmd := &cobra.Command{
		Use:   "id",
		Short: "Show device identity",
		Args:  cobra.NoArgs,
		RunE:  runID,
	}

	eraseCmd := &cobra.Command{
		Use:   "erase <pages>",
		Short: "Erase application flash pages",
		Long: `Erase the given number of application pages. Pages are taken from bank 1
after the bootloader region, then from bank 2.`,
		Args: cobra.ExactArgs(1),
		RunE: runErase,
	}

	flashCmd := &cobra.Command{
		Use:   "flash <firmware.hex>",
		Short: "Flash an Intel HEX image",
		Long: `Flash an Intel HEX image to the application region.

The pages covering the image are erased first, then the image is sent
as data records inside one WriteFlash transfer.`,
		Args: cobra.ExactArgs(1),
		RunE: runFlash,
	}
	flashCmd.Flags().IntVar(&chunkFlag, "chunk", 16, "Data bytes per record (1-25)")
	flashCmd.Flags().BoolVar(&startFlag, "start", false, "Start the application after flashing")

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the application",
		Args:  cobra.NoArgs,
		RunE:  runStart,
	}

	detectCmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan serial ports for bootloaders",
		Args:  cobra.NoArgs,
		RunE:  runDetect,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	emulateCmd := &cobra.Command{
		Use:   "emulate",
		Short: "Emulate the bootloader on a simulated chip",
		Long: `Run the bootloader on a simulated STM32G474.

With --port the emulator serves a serial port, for example one end of a
virtual null-modem pair. With --listen it accepts WebSocket connections.
Flash contents persist in the --state file between runs.`,
		Args: cobra.NoArgs,
		RunE: runEmulate,
	}
	emulateCmd.Flags().StringVar(&listenFlag, "listen", "", "WebSocket listen address, e.g. :8080")
	emulateCmd.Flags().StringVar(&stateFlag, "state", "", "Flash state file (CBOR)")
	emulateCmd.Flags().IntVar(&sessionsFlag, "max-sessions", 1, "Concurrent WebSocket sessions")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("g474boot %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}

	rootCmd.AddCommand(idCmd, eraseCmd, flashCmd, startCmd, detectCmd, listCmd, emulateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verboseFlag {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if profileFlag == "" {
		profile = config.Default()
	} else {
		cfg, err := config.Load(profileFlag)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid profile %s: %w", profileFlag, err)
		}
		config.Normalize(cfg)
		profile = cfg
	}

	if baudFlag == 0 {
		baudFlag = profile.Serial.Baud
	}
	return nil
}

// openFlasher connects to the bootloader over WebSocket or a serial port.
func openFlasher() (*flasher.Flasher, func() error, error) {
	var link interface {
		transport.Transport
		Close() error
	}

	if urlFlag != "" {
		password := ""
		if userFlag != "" {
			var err error
			if password, err = getPassword(); err != nil {
				return nil, nil, err
			}
		}
		ws, err := transport.DialWebSocket(urlFlag, userFlag, password, insecureFlag)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Link: %s\n", urlFlag)
		link = ws
	} else {
		portName := portFlag
		if portName == "" {
			fmt.Println("Detecting device...")
			result, err := detect.DetectDevice(baudFlag)
			if err != nil {
				return nil, nil, fmt.Errorf("device detection failed: %w", err)
			}
			portName = result.Port
			fmt.Printf("Found %s on %s\n", result.DeviceName, result.Port)
		}

		port, err := transport.Open(portName, baudFlag)
		if err != nil {
			return nil, nil, err
		}
		fmt.Printf("Port: %s @ %d baud\n", portName, baudFlag)
		link = port
	}

	f := flasher.New(link)
	f.SetLogger(logger)
	return f, link.Close, nil
}

func runID(cmd *cobra.Command, args []string) error {
	f, closeLink, err := openFlasher()
	if err != nil {
		return err
	}
	defer closeLink()

	id, err := f.Identify()
	if err != nil {
		return err
	}
	fmt.Printf("Identity: 0x%03X (%s)\n", id, protocol.DeviceName(id))
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	pages, err := strconv.ParseUint(args[0], 0, 32)
	if err != nil {
		return fmt.Errorf("invalid page count %q: %w", args[0], err)
	}

	f, closeLink, err := openFlasher()
	if err != nil {
		return err
	}
	defer closeLink()

	fmt.Printf("Erasing %d pages...\n", pages)
	if err := f.Erase(uint32(pages)); err != nil {
		return err
	}
	fmt.Println("Erase complete!")
	return nil
}

func runFlash(cmd *cobra.Command, args []string) error {
	firmwarePath := args[0]

	img, err := ihex.ReadFile(firmwarePath)
	if err != nil {
		return fmt.Errorf("failed to read firmware file: %w", err)
	}
	start, end := img.Bounds()
	fmt.Printf("Firmware: %s (%d bytes at 0x%08X..0x%08X)\n", firmwarePath, img.Size(), start, end)

	f, closeLink, err := openFlasher()
	if err != nil {
		return err
	}
	defer closeLink()
	f.SetChunkSize(chunkFlag)

	id, err := f.Identify()
	if err != nil {
		return err
	}
	fmt.Printf("Connected to %s\n", protocol.DeviceName(id))
	if id != profile.Device.Identity {
		fmt.Printf("Warning: profile expects identity 0x%03X\n", profile.Device.Identity)
	}

	var bar *progressbar.ProgressBar
	f.SetProgressCallback(func(current, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Flashing"),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionThrottle(100),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		bar.Set(current)
	})

	if err := f.FlashImage(img, profile.Geometry()); err != nil {
		return err
	}
	if bar != nil {
		bar.Finish()
	}
	fmt.Println("\nFlash complete!")

	if startFlag {
		fmt.Println("Starting application...")
		if err := f.StartApplication(); err != nil {
			fmt.Printf("Warning: start failed: %v\n", err)
		}
	}

	fmt.Println("Done!")
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	f, closeLink, err := openFlasher()
	if err != nil {
		return err
	}
	defer closeLink()

	if err := f.StartApplication(); err != nil {
		return err
	}
	fmt.Println("Application started")
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	if portFlag != "" {
		result, err := detect.DetectOnPort(portFlag, baudFlag)
		if err != nil {
			return fmt.Errorf("failed to detect device on %s: %w", portFlag, err)
		}
		printDeviceInfo(result)
		return nil
	}

	fmt.Println("Scanning for bootloaders...")
	devices, err := detect.ListDevices(baudFlag)
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		fmt.Println("No bootloaders found")
		return nil
	}

	fmt.Printf("Found %d device(s):\n\n", len(devices))
	for i, d := range devices {
		fmt.Printf("Device %d:\n", i+1)
		printDeviceInfo(&d)
		fmt.Println()
	}

	return nil
}

func printDeviceInfo(d *detect.Result) {
	fmt.Printf("  Port:     %s\n", d.Port)
	fmt.Printf("  Device:   %s\n", d.DeviceName)
	fmt.Printf("  Identity: 0x%03X\n", d.Identity)
}

func runList(cmd *cobra.Command, args []string) error {
	ports, err := transport.ListPorts()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return nil
	}

	fmt.Println("Available serial ports:")
	for _, p := range ports {
		fmt.Printf("  %s\n", p)
	}

	return nil
}

func runEmulate(cmd *cobra.Command, args []string) error {
	if listenFlag == "" && portFlag == "" {
		return fmt.Errorf("emulate needs --port or --listen")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	emu, err := emulator.New(profile, emulator.Options{
		StatePath:   stateFlag,
		MaxSessions: sessionsFlag,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	if listenFlag != "" {
		return emu.ListenAndServe(ctx, listenFlag)
	}
	return emu.ServeSerial(ctx, portFlag, baudFlag)
}
