package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v2"

	"rfidexec/audit"
	"rfidexec/dispatch"
	"rfidexec/indicator"
	"rfidexec/mqtt"
	"rfidexec/reader"
	"rfidexec/table"
)

const (
	defaultConfigPath = "/etc/rfidexec.yml"
	defaultDevice     = "/dev/rfid"
	defaultUser       = "nobody"
	defaultTablePath  = "/etc/rfidexec.map"
)

// Config is the main configuration structure for rfidexec.
type Config struct {
	// Reader configuration
	Reader reader.Config `yaml:"reader"`

	// Identity to run as once the device is open
	User  string `yaml:"user"`
	Group string `yaml:"group"`

	// Translation table file and inline entries (inline wins)
	Table string            `yaml:"table"`
	Tags  map[string]string `yaml:"tags"`

	Shell       string `yaml:"shell"`
	IgnoreEmpty bool   `yaml:"ignore_empty"`

	Log LogConfig `yaml:"log"`

	// Optional outputs
	ClientID  string           `yaml:"client_id"`
	MQTT      mqtt.Config      `yaml:"mqtt"`
	Indicator indicator.Config `yaml:"indicator"`
	Audit     audit.Config     `yaml:"audit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Syslog bool   `yaml:"syslog"` // log to syslog in the foreground too
}

func defaultConfig() Config {
	return Config{
		Reader:    reader.Config{Device: defaultDevice},
		User:      defaultUser,
		Table:     defaultTablePath,
		Shell:     dispatch.DefaultShell,
		Log:       LogConfig{Level: "info"},
		Indicator: indicator.Config{Hold: indicator.DefaultHold},
	}
}

// options are the command line flags.
type options struct {
	configPath string
	device     string
	user       string
	table      string
	foreground bool
	verbose    bool

	set map[string]bool // flags given explicitly
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "rfidexec [-c path] [-d path] [-f] [-u username] [-t path] [-v]\n\n")
	fmt.Fprintf(w, "Options:\n")
	fmt.Fprintf(w, "\t-c <path> Config file. The default is %s, if present.\n", defaultConfigPath)
	fmt.Fprintf(w, "\t-d <path> to rfid reader. The default is %s.\n", defaultDevice)
	fmt.Fprintf(w, "\t-f Run in the foreground.\n")
	fmt.Fprintf(w, "\t-u <user> User name. The default is %s.\n", defaultUser)
	fmt.Fprintf(w, "\t-t <path> Path to translation table. The default is %s.\n", defaultTablePath)
	fmt.Fprintf(w, "\t-v Debug logging.\n")
	fmt.Fprintf(w, "\t-h Show this help.\n")
}

// parseFlags parses args. -h yields flag.ErrHelp after printing usage.
func parseFlags(args []string, out io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}

	flags := flag.NewFlagSet("rfidexec", flag.ContinueOnError)
	flags.SetOutput(out)
	flags.Usage = func() { usage(out) }
	flags.StringVar(&o.configPath, "c", defaultConfigPath, "config file")
	flags.StringVar(&o.device, "d", defaultDevice, "path to rfid reader")
	flags.BoolVar(&o.foreground, "f", false, "run in the foreground")
	flags.StringVar(&o.user, "u", defaultUser, "user name")
	flags.StringVar(&o.table, "t", defaultTablePath, "path to translation table")
	flags.BoolVar(&o.verbose, "v", false, "debug logging")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		usage(out)
		return nil, fmt.Errorf("unexpected argument %q", flags.Arg(0))
	}
	flags.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// loadConfig reads the config file, if any, and applies flag overrides.
// A missing default config file is not an error.
func loadConfig(o *options) (*Config, error) {
	cfg := defaultConfig()

	f, err := os.Open(o.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !o.set["c"]:
		// no config file, flags and defaults only
	case err != nil:
		return nil, fmt.Errorf("open config: %w", err)
	default:
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.SetStrict(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode config %s: %w", o.configPath, err)
		}
	}

	if o.set["d"] {
		cfg.Reader.Device = o.device
	}
	if o.set["u"] {
		cfg.User = o.user
	}
	if o.set["t"] {
		cfg.Table = o.table
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Reader.Device == "" {
		return errors.New("reader.device must not be empty")
	}
	if c.Reader.MaxLength < 0 {
		return fmt.Errorf("reader.max_length must not be negative, got %d", c.Reader.MaxLength)
	}
	if c.User == "" {
		return errors.New("user must not be empty")
	}
	if c.MQTT.Host != "" && c.ClientID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			return errors.New("client_id missing in config file")
		}
		c.ClientID = host
	}
	return nil
}

// loadTable builds the translation table from the table file and the
// inline tags. The default table file may be absent when inline tags are
// configured.
func (c *Config) loadTable() (*table.Table, error) {
	var entries []table.Entry

	if c.Table != "" {
		fileEntries, err := table.LoadFile(c.Table)
		switch {
		case errors.Is(err, fs.ErrNotExist) && c.Table == defaultTablePath && len(c.Tags) > 0:
		case err != nil:
			return nil, err
		default:
			entries = append(entries, fileEntries...)
		}
	}

	codes := make([]string, 0, len(c.Tags))
	for code := range c.Tags {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if err := table.ValidateEntry(code, c.Tags[code]); err != nil {
			return nil, fmt.Errorf("tags: %w", err)
		}
		entries = append(entries, table.Entry{Code: code, Command: c.Tags[code]})
	}

	return table.New(entries), nil
}

// resolvePaths makes the file paths of the config absolute against base.
func (c *Config) resolvePaths(base string) error {
	if !filepath.IsAbs(base) {
		return fmt.Errorf("working directory %q is not absolute", base)
	}
	for _, p := range []*string{
		&c.Reader.Device,
		&c.Table,
		&c.Audit.Path,
		&c.MQTT.CACert,
		&c.MQTT.ClientCert,
		&c.MQTT.ClientKey,
		&c.Indicator.NeopixelPipe,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		*p = filepath.Join(base, *p)
	}
	return nil
}

// daemonArgs rebuilds the command line for the detached child. Paths are
// made absolute because the child runs in /.
func (o *options) daemonArgs(cfg *Config) ([]string, error) {
	abs := func(p string) (string, error) {
		if p == "" {
			return "", nil
		}
		return filepath.Abs(p)
	}

	var args []string
	if o.set["c"] || fileExists(o.configPath) {
		p, err := abs(o.configPath)
		if err != nil {
			return nil, err
		}
		args = append(args, "-c", p)
	}

	device, err := abs(cfg.Reader.Device)
	if err != nil {
		return nil, err
	}
	tablePath, err := abs(cfg.Table)
	if err != nil {
		return nil, err
	}
	args = append(args, "-d", device, "-u", cfg.User, "-t", tablePath)
	if o.verbose {
		args = append(args, "-v")
	}
	return args, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
