package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"sigs.k8s.io/yaml"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Explore the shell's event log.",
}

// openEventLog opens the event log of the configuration at --config, the
// current directory by default.
func openEventLog() (io.ReadCloser, error) {
	if cfgPath == "" {
		cfgPath = "."
	}

	config, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return config.ReadEventLog()
}

var reportCommand = &cobra.Command{
	Use:   "report",
	Short: "Show a report of events.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		fd, err := openEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		report := logger.NewReport()
		if err := logger.ReadJSONLinesLog(fd, report.Update); err != nil {
			return err
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	},
}

var catCommand = &cobra.Command{
	Use:   "cat",
	Short: "Print every event, one per line.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		fd, err := openEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		w := cmd.OutOrStdout()
		return logger.ReadJSONLinesLog(fd, func(le *logger.LogEntry) {
			fmt.Fprintln(w, formatEvent(le))
		})
	},
}

// formatEvent renders an entry as its time, type and remaining fields.
func formatEvent(le *logger.LogEntry) string {
	fields := le.GetFields()
	micros := int64(fields[logger.FieldTimestamp].GetNumberValue())
	when := time.Unix(0, micros*int64(time.Microsecond)).UTC().Format(time.RFC3339Nano)

	var keys []string
	for k := range fields {
		switch k {
		case logger.FieldTimestamp, logger.FieldType, logger.FieldSession:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{when, fields[logger.FieldSession].GetStringValue(), fields[logger.FieldType].GetStringValue()}
	for _, k := range keys {
		value, err := protojson.Marshal(fields[k])
		if err != nil {
			value = []byte("?")
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, value))
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(reportCommand)
	eventsCmd.AddCommand(catCommand)
}
