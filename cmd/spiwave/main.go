package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/pkg/profile"
	"github.com/soypat/saleae"
	"github.com/soypat/spiwave/internal/config"
	"github.com/soypat/spiwave/internal/mqttpub"
	"github.com/soypat/spiwave/internal/slog"
	"github.com/soypat/spiwave/spi"
	"github.com/soypat/spiwave/wave"
)

type publisher interface {
	Publish(payload []byte) error
}

// decodeCtl selects the bit source and what happens to decoded transactions.
type decodeCtl struct {
	cfg config.Config
	log *slog.Logger
	pub publisher

	// Raw bit strings. Take precedence over every other source when set.
	mosiBits, misoBits string

	// Saleae binary digital exports: clock, chip select, MOSI, MISO.
	captures [4]string
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "spiwave - Decode SPI read/write transactions from a captured waveform.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	if err := run(); err != nil {
		log.Fatal(err.Error())
	}
}

func run() error {
	configPath := flag.String("config", "", "TOML configuration file.")
	input := flag.String("i", "-", "Input waves text file. '-' reads standard input.")
	logLevel := flag.String("log", "", "Log level: debug, info, warn or error. Logs go to standard error.")
	cpol := flag.Int("cpol", -1, "Fix clock polarity to 0 or 1. Requires -cpha. Default reads the cpol signal every sample.")
	cpha := flag.Int("cpha", -1, "Fix clock phase to 0 or 1. Requires -cpol.")
	sigClk := flag.String("sig-clk", "", "Clock signal name.")
	sigMOSI := flag.String("sig-mosi", "", "MOSI signal name.")
	sigMISO := flag.String("sig-miso", "", "MISO signal name.")
	sigSS := flag.String("sig-ss", "", "Active low chip select signal name.")
	fclk := flag.String("f-clk", "", "Saleae binary input: SPI clock.")
	fcs := flag.String("f-cs", "", "Saleae binary input: SPI chip select.")
	fmosi := flag.String("f-mosi", "", "Saleae binary input: SPI MOSI.")
	fmiso := flag.String("f-miso", "", "Saleae binary input: SPI MISO.")
	mosiBits := flag.String("mosi-bits", "", "Decode this MOSI bit string instead of a waveform. Requires -miso-bits.")
	misoBits := flag.String("miso-bits", "", "MISO bit string paired with -mosi-bits.")
	omitRead := flag.Bool("omit-read", false, "Omit read transactions in output.")
	omitWrite := flag.Bool("omit-write", false, "Omit write transactions in output.")
	mqttBroker := flag.String("mqtt-broker", "", "Publish every output line to the MQTT broker at host:port.")
	mqttTopic := flag.String("mqtt-topic", "", "MQTT topic to publish to.")
	prof := flag.String("profile", "", "Write a 'cpu' or 'mem' profile to the working directory.")
	flag.Parse()

	switch *prof {
	case "":
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	default:
		return fmt.Errorf("invalid profile %q", *prof)
	}

	cfg := config.Default()
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if err = cfg.ApplyEnv(); err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["log"] {
		cfg.LogLevel, err = config.ParseLevel(*logLevel)
		if err != nil {
			return err
		}
	}
	if set["cpol"] || set["cpha"] {
		cfg.Capture.Mode, err = config.ModeFromInts(*cpol, *cpha)
		if err != nil {
			return err
		}
		cfg.Capture.FixedMode = true
	}
	overlay := func(name string, dst *string, v string) {
		if set[name] {
			*dst = v
		}
	}
	overlay("sig-clk", &cfg.Capture.Signals.Clock, *sigClk)
	overlay("sig-mosi", &cfg.Capture.Signals.MOSI, *sigMOSI)
	overlay("sig-miso", &cfg.Capture.Signals.MISO, *sigMISO)
	overlay("sig-ss", &cfg.Capture.Signals.Select, *sigSS)
	overlay("mqtt-broker", &cfg.MQTT.Broker, *mqttBroker)
	overlay("mqtt-topic", &cfg.MQTT.Topic, *mqttTopic)
	cfg.OmitRead = cfg.OmitRead || *omitRead
	cfg.OmitWrite = cfg.OmitWrite || *omitWrite
	if err = cfg.Validate(); err != nil {
		return err
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	cfg.Capture.Logger = logger

	ctl := decodeCtl{
		cfg:      cfg,
		log:      logger,
		mosiBits: *mosiBits,
		misoBits: *misoBits,
		captures: [4]string{*fclk, *fcs, *fmosi, *fmiso},
	}
	if cfg.MQTT.Broker != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.MQTT.Timeout)
		pub, err := mqttpub.Dial(ctx, cfg.MQTT.Broker, mqttpub.Config{
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Timeout:  cfg.MQTT.Timeout,
			Logger:   logger,
		})
		cancel()
		if err != nil {
			return err
		}
		defer pub.Close()
		ctl.pub = pub
	}

	in := io.Reader(os.Stdin)
	if *input != "-" && ctl.mosiBits == "" && ctl.captures == [4]string{} {
		fp, err := os.Open(*input)
		if err != nil {
			return err
		}
		defer fp.Close()
		in = fp
	}
	start := time.Now()
	if err = ctl.run(in, os.Stdout); err != nil {
		return err
	}
	logger.Debug("finished", slog.String("elapsed", time.Since(start).String()))
	return nil
}

func (ctl *decodeCtl) run(in io.Reader, out io.Writer) error {
	bs, err := ctl.bitstream(in)
	if err != nil {
		return err
	}
	n, discarded, err := ctl.emit(out, bs)
	if err != nil {
		return err
	}
	ctl.log.Info("decoded", slog.Int("bits", bs.Len()), slog.Int("transactions", n), slog.Int("discarded", discarded))
	return nil
}

// bitstream captures the bits from whichever source was configured.
func (ctl *decodeCtl) bitstream(in io.Reader) (*spi.Bitstream, error) {
	switch {
	case ctl.mosiBits != "" || ctl.misoBits != "":
		return spi.ParseBitstream(ctl.mosiBits, ctl.misoBits)

	case ctl.captures != [4]string{}:
		if c := ctl.cfg.Capture; c.FixedMode && c.Mode != spi.Mode0 {
			return nil, fmt.Errorf("saleae input only decodes mode0, configured %v", c.Mode)
		}
		var files [4]*saleae.DigitalFile
		for i, name := range ctl.captures {
			if name == "" {
				return nil, errors.New("saleae input needs -f-clk, -f-cs, -f-mosi and -f-miso")
			}
			df, err := spi.ReadDigitalFile(name)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			files[i] = df
		}
		ctl.log.Info("saleae input", slog.String("clk", ctl.captures[0]), slog.String("cs", ctl.captures[1]))
		return spi.FromSaleae(files[0], files[1], files[2], files[3])
	}

	trace, err := wave.ParseText(bufio.NewReader(in))
	if err != nil {
		return nil, err
	}
	ctl.log.Info("read waves", slog.Int("signals", len(trace.SignalNames())), slog.Int("samples", trace.SampleCount()))
	for _, s := range trace.Signals() {
		ctl.log.Info("signal", slog.String("name", s.Name), slog.Int("bits", s.Width))
	}
	return spi.Sample(trace, ctl.cfg.Capture)
}

// emit writes one line per kept transaction to w and publishes it when a
// publisher is configured.
func (ctl *decodeCtl) emit(w io.Writer, bs *spi.Bitstream) (n, discarded int, err error) {
	dec := spi.NewDecoder(bs)
	dec.SetLogger(ctl.log)
	var pubErr error
	kept := func(yield func(spi.Transaction) bool) {
		var line []byte
		for tx := range dec.All() {
			if (ctl.cfg.OmitRead && tx.Dir == spi.Read) || (ctl.cfg.OmitWrite && tx.Dir == spi.Write) {
				continue
			}
			if ctl.pub != nil {
				line = tx.AppendText(line[:0])
				if pubErr = ctl.pub.Publish(line); pubErr != nil {
					return
				}
			}
			if !yield(tx) {
				return
			}
		}
	}
	n, err = spi.WriteTransactions(w, kept)
	if pubErr != nil {
		return n, 0, pubErr
	}
	if err != nil {
		return n, 0, err
	}
	return n, dec.Discarded(), nil
}
