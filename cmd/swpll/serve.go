package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/lorenzosaino/go-sysctl"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/usnistgov/swpll"
	"github.com/usnistgov/swpll/appll"
	"github.com/usnistgov/swpll/internal/plldb"
	"github.com/usnistgov/swpll/serialbridge"
	"github.com/usnistgov/swpll/server"
	"gopkg.in/natefinch/lumberjack.v2"
)

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <path>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err := os.MkdirAll(dir, 0775); err != nil {
			return "", err
		}
	}

	// Create an empty file path/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err != nil {
			return "", err
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find config
// files and the filename and suffix.
func setupViper(dotSwpll string) error {
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotSwpll, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/swpll"))
	viper.AddConfigPath(dotSwpll)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	logger := log.New(os.Stderr, "", log.LstdFlags)
	logger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return logger
}

// realtimeWarning explains the value of kernel.sched_rt_runtime_us, or returns
// "" when realtime tasks are not throttled.
func realtimeWarning(value string) string {
	us, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Sprintf("cannot parse kernel.sched_rt_runtime_us %q", value)
	}
	if us < 0 {
		return ""
	}
	return fmt.Sprintf("realtime tasks are throttled to %d us per period (kernel.sched_rt_runtime_us); "+
		"SDM register writes may be late under load", us)
}

type serveFlags struct {
	bridge     string
	baud       int
	db         bool
	rpcPort    int
	statusPort int
}

func newServeCmd() *cobra.Command {
	var sf serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a software PLL over JSON-RPC",
		Long: "Serve a software PLL over JSON-RPC, publishing its status on a ZMQ port. " +
			"With --bridge, oscillator settings are also written to an application PLL over a serial bridge.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.OutOrStdout(), sf)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&sf.bridge, "bridge", "", "serial port of the register bridge")
	flags.IntVar(&sf.baud, "baud", 115200, "serial bridge baud rate")
	flags.BoolVar(&sf.db, "db", false, "record runs and lock events in ClickHouse")
	flags.IntVar(&sf.rpcPort, "rpc-port", swpll.Ports.RPC, "JSON-RPC port")
	flags.IntVar(&sf.statusPort, "status-port", swpll.Ports.Status, "ZMQ status port")
	return cmd
}

func serve(w io.Writer, sf serveFlags) error {
	banner := fmt.Sprintf("\nThis is SWPLL version %s (git commit %s)\n", swpll.Build.Version, githash)
	fmt.Fprint(w, banner)

	// Start logging problems and updates to 2 log files.
	HOME, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	dotSwpll := filepath.Join(HOME, ".swpll")
	logdir := filepath.Join(dotSwpll, "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		return err
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		return err
	}
	swpll.ProblemLogger = startLogger(problemname)
	swpll.UpdateLogger = startLogger(logname)
	fmt.Fprintf(w, "Logging problems       to %s\n", problemname)
	fmt.Fprintf(w, "Logging client updates to %s\n\n", logname)
	swpll.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(dotSwpll); err != nil {
		return err
	}

	if value, err := sysctl.Get("kernel.sched_rt_runtime_us"); err == nil {
		if msg := realtimeWarning(value); msg != "" {
			fmt.Fprintf(w, "Warning: %s\n", msg)
			swpll.ProblemLogger.Println(msg)
		}
	}

	var hw appll.RegisterWriter
	if sf.bridge != "" {
		bridge, err := serialbridge.Open(sf.bridge, sf.baud)
		if err != nil {
			return err
		}
		defer bridge.Close()
		hw = bridge
		fmt.Fprintf(w, "Writing application PLL registers through %s\n", sf.bridge)
	}

	abort := make(chan struct{})
	db := plldb.Dummy()
	if sf.db {
		activity := &plldb.ActivityMessage{
			ID:        ulid.Make().String(),
			Hostname:  swpll.Build.Host,
			Githash:   githash,
			Version:   swpll.Build.Version,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
			Start:     time.Now(),
		}
		db = plldb.Start(activity, abort)
		if !db.IsConnected() {
			fmt.Fprintf(w, "Not recording to the database: %v\n", db.Err())
			swpll.ProblemLogger.Printf("Not recording to the database: %v", db.Err())
		}
	}

	messages := make(chan server.ClientUpdate, 256)
	go func() {
		if err := server.RunClientUpdater(messages, sf.statusPort, abort); err != nil {
			swpll.ProblemLogger.Printf("Status publisher failed: %v", err)
			// Keep the loop from blocking on updates nobody will see.
			for {
				select {
				case <-abort:
					return
				case <-messages:
				}
			}
		}
	}()

	lc := server.NewLoopControl(messages, hw, db)
	fmt.Fprintf(w, "Serving JSON-RPC on port %d, status on port %d\n", sf.rpcPort, sf.statusPort)
	err = server.RunRPCServer(lc, sf.rpcPort, true)
	close(abort)
	db.Wait()
	return err
}
