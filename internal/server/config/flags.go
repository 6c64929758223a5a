package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/clipdrop/internal/flagx"
)

var flagNames = []string{"-L", "-D", "-d", "-k", "-K", "-t", "-l", "-u", "-p", "-b", "-g", "-e", "-x", "-T", "-r", "-i", "-n"}

// parseFlags overlays the daemon's short command-line flags onto config.
//
//	-L string   log level (debug, info, warn, error)
//	-D string   database driver (postgres, sqlite)
//	-d string   database DSN
//	-k string   base64 encryption key
//	-K          refuse to start without an encryption key
//	-t string   storage type (local, object)
//	-l string   local storage root
//	-u string   S3 access key
//	-p string   S3 secret key
//	-b string   S3 bucket
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-x string   S3 key prefix
//	-T int      storage timeout, seconds
//	-r int      retention window, minutes
//	-i int      sweep interval, seconds
//	-n int      sweep batch size
//
// Only these flags are read from args; anything else is ignored.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("clipdrop", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.LogLevel, "L", config.LogLevel, "log level")
	fs.StringVar(&config.DatabaseDriver, "D", config.DatabaseDriver, "database driver")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "base64 encryption key")
	fs.BoolVar(&config.RequireEncryption, "K", config.RequireEncryption, "require an encryption key")
	fs.StringVar(&config.StorageType, "t", config.StorageType, "storage type")
	fs.StringVar(&config.LocalRoot, "l", config.LocalRoot, "local storage root")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 access key")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3Prefix, "x", config.S3Prefix, "S3 key prefix")

	timeout := fs.Int("T", int(config.S3Timeout.Seconds()), "storage timeout (in seconds)")
	retention := fs.Int("r", int(config.RetentionWindow.Minutes()), "retention window (in minutes)")
	interval := fs.Int("i", int(config.SweepInterval.Seconds()), "sweep interval (in seconds)")
	fs.IntVar(&config.SweepBatchSize, "n", config.SweepBatchSize, "sweep batch size")

	if err := fs.Parse(flagx.FilterArgs(args, flagNames)); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	// Only explicitly passed duration flags override, so sub-unit values
	// from files or env survive the int round trip.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "T":
			config.S3Timeout = time.Duration(*timeout) * time.Second
		case "r":
			config.RetentionWindow = time.Duration(*retention) * time.Minute
		case "i":
			config.SweepInterval = time.Duration(*interval) * time.Second
		}
	})
	return nil
}
