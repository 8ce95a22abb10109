package cmd

import (
	"errors"
	"io"
	"io/fs"
	"io/ioutil"
	"log"
	"os"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/shell"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	command    string
	logPath    string
	exitStatus int
)

func loadConfig() (*config.Configuration, error) {
	configuration, err := config.Load(cfgPath)

	if errors.Is(err, fs.ErrNotExist) {
		log.Println("Couldn't load config: did you run init?")
	}

	return configuration, err
}

// shellConfig uses the built in configuration unless a path was given.
func shellConfig() (*config.Configuration, bool, error) {
	if cfgPath == "" {
		return config.Default(), false, nil
	}
	configuration, err := loadConfig()
	return configuration, true, err
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobsh",
	Short: "A job control shell",
	Long: `jobsh reads command lines from standard input and runs each pipeline as
a group of processes it can signal and wait for as a unit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		configuration, onDisk, err := shellConfig()
		if err != nil {
			return err
		}

		var toClose []io.Closer
		defer func() {
			for _, c := range toClose {
				c.Close()
			}
		}()

		var logDest io.Writer = ioutil.Discard
		switch {
		case logPath != "":
			fd, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return err
			}
			toClose = append(toClose, fd)
			logDest = fd
		case onDisk && configuration.AppLog != "":
			fd, err := configuration.OpenAppLog()
			if err != nil {
				return err
			}
			toClose = append(toClose, fd)
			logDest = fd
		}
		appLog := log.New(logDest, "", log.LstdFlags|log.Lmicroseconds)

		events := logger.NewNopLogger()
		if onDisk && configuration.EventLog != "" {
			fd, err := configuration.OpenEventLog()
			if err != nil {
				return err
			}
			toClose = append(toClose, fd)
			events = logger.NewJsonLinesLogRecorder(fd)
		}

		s, err := shell.New(shell.Options{
			Config: configuration,
			Log:    appLog,
			Events: events,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		if cmd.Flags().Changed("command") {
			exitStatus = s.RunCommand(command)
			if s.Quit {
				exitStatus = s.ExitStatus
			}
			return nil
		}

		exitStatus = s.Run()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// The process exits with the shell's status.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
	os.Exit(exitStatus)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config path, the built in configuration is used if empty")
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "run a single command line and exit")
	rootCmd.Flags().StringVar(&logPath, "log", "", "append diagnostics to this file")
}
