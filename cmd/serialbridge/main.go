// Command serialbridge connects a line-oriented serial device to stdout and
// stdin, and optionally to an MQTT broker.
//
//	serialbridge -port /dev/ttyUSB0 -baud 115200
//	serialbridge -config bridge.yaml -mqtt tcp://localhost:1883 -topic lab/sensor
//	serialbridge -list
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	serial "github.com/luhtfiimanal/go-serial-bridge"
)

type options struct {
	configPath string
	cfg        serial.Config
	queue      int
	tick       time.Duration
	list       bool
	verbose    bool
	broker     string
	topic      string
	clientID   string
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	var flagCfg serial.Config
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&flagCfg.PortName, "port", "", "serial device, e.g. /dev/ttyUSB0 or COM3")
	fs.IntVar(&flagCfg.BaudRate, "baud", 9600, "baud rate")
	fs.StringVar(&flagCfg.Driver, "driver", "", "driver: "+fmt.Sprint(serial.Drivers()))
	fs.StringVar(&flagCfg.Delimiter, "delimiter", "", "line delimiter (default \\n)")
	fs.DurationVar(&flagCfg.ReadTimeout, "read-timeout", 0, "read timeout, -1ns blocks")
	fs.IntVar(&o.queue, "queue", 0, "deliver every line through a queue of this size instead of keeping only the latest")
	fs.DurationVar(&o.tick, "tick", serial.DefaultTickInterval, "consumer poll interval")
	fs.BoolVar(&o.list, "list", false, "list serial ports and exit")
	fs.BoolVar(&o.verbose, "v", false, "debug logging")
	fs.StringVar(&o.broker, "mqtt", "", "MQTT broker URL, e.g. tcp://localhost:1883")
	fs.StringVar(&o.topic, "topic", "serialbridge", "MQTT topic prefix; lines go to <topic>/rx, <topic>/tx is written to the port")
	fs.StringVar(&o.clientID, "client-id", "serialbridge", "MQTT client id")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.configPath != "" {
		cfg, err := serial.LoadConfig(o.configPath)
		if err != nil {
			return o, err
		}
		o.cfg = cfg
	}

	// Flags given explicitly win over the file.
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["port"] || o.cfg.PortName == "" {
		o.cfg.PortName = flagCfg.PortName
	}
	if set["baud"] || o.cfg.BaudRate == 0 {
		o.cfg.BaudRate = flagCfg.BaudRate
	}
	if set["driver"] {
		o.cfg.Driver = flagCfg.Driver
	}
	if set["delimiter"] {
		o.cfg.Delimiter = flagCfg.Delimiter
	}
	if set["read-timeout"] {
		o.cfg.ReadTimeout = flagCfg.ReadTimeout
	}
	return o, nil
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(o); err != nil {
		log.Fatal().Err(err).Msg("serialbridge")
	}
}

func run(o options) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if o.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if o.list {
		ports, err := serial.Ports()
		if err != nil {
			return fmt.Errorf("list ports: %w", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	}

	var opts []serial.Option
	if o.queue > 0 {
		opts = append(opts, serial.WithMailbox(serial.NewQueue(o.queue)))
	}
	conn := serial.NewConn(o.cfg, opts...)
	if err := conn.Start(); err != nil {
		return err
	}
	serial.SetDefault(conn)
	defer serial.SetDefault(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sinks := []func(string){printLine(os.Stdout)}
	if o.broker != "" {
		bridge, err := newMQTTBridge(o.broker, o.clientID, o.topic)
		if err != nil {
			conn.Stop()
			return err
		}
		defer bridge.Close()
		sinks = append(sinks, bridge.Publish)
	}

	go forwardLines(os.Stdin)

	conn.Pump(ctx, o.tick, func(line string) {
		for _, sink := range sinks {
			sink(line)
		}
	})
	return conn.Stop()
}

func printLine(w io.Writer) func(string) {
	return func(line string) { fmt.Fprintln(w, line) }
}

// forwardLines writes every line of r to the default connection.
func forwardLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		serial.Write(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("stdin")
	}
}
