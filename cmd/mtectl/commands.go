package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/taoyao-code/mte-gateway/internal/protocol/mte"
)

func newSetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Update one instrument target setting (host, port, station_addr, device_addr, timeout)",
		Example: `  mtectl set host 192.168.1.50
  mtectl set timeout 5s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{args[0]: args[1]})
			if err != nil {
				return err
			}
			ctx, cancel := flags.context()
			defer cancel()
			data, err := flags.client().do(ctx, http.MethodPut, "/mteconfig", body)
			if err != nil {
				return err
			}
			return writeData(cmd.OutOrStdout(), flags.output, data)
		},
	}
}

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current instrument target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGet(cmd, flags, "/mteconfig")
		},
	}
}

func newReadCmd(flags *rootFlags) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read instantaneous values (voltage, current, phase, power)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/instantaneous"
			if raw {
				path += "?raw=true"
			}
			return runGet(cmd, flags, path)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Include the undecoded instrument values")
	return cmd
}

func newDeviceCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Show instrument identification from the connect handshake",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGet(cmd, flags, "/device")
		},
	}
}

func newLoadCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Send a load definition (JSON or YAML file, - for stdin)",
		Example: `  mtectl sample > load.json
  mtectl load load.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readLoadDefinition(cmd, args[0])
			if err != nil {
				return err
			}
			ctx, cancel := flags.context()
			defer cancel()
			_, err = flags.client().do(ctx, http.MethodPut, "/loadef", body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "load definition accepted")
			return nil
		},
	}
}

// readLoadDefinition 读取并在本地校验负载设定，返回待发送的 JSON
func readLoadDefinition(cmd *cobra.Command, name string) ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if name == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(name)
	}
	if err != nil {
		return nil, err
	}
	body, err := toJSON(name, content)
	if err != nil {
		return nil, err
	}
	var def mte.LoadDefinition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, fmt.Errorf("invalid load definition: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return body, nil
}

func newTestCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Start, stop or poll a meter error test",
	}

	start := &cobra.Command{
		Use:   "start <mindex>",
		Short: "Start the error test on a meter position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestAction(cmd, flags, "start", args[0])
		},
	}
	stop := &cobra.Command{
		Use:   "stop <mindex>",
		Short: "Stop the error test on a meter position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTestAction(cmd, flags, "stop", args[0])
		},
	}

	var (
		count    int
		interval time.Duration
	)
	result := &cobra.Command{
		Use:   "result <mindex>",
		Short: "Poll the latest error result of a meter position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mindex, err := parseMeterIndex(args[0])
			if err != nil {
				return err
			}
			for n := 0; count <= 0 || n < count; n++ {
				if n > 0 {
					time.Sleep(interval)
				}
				if err := runGet(cmd, flags, "/test/result/"+mindex); err != nil {
					return err
				}
			}
			return nil
		},
	}
	result.Flags().IntVarP(&count, "count", "n", 1, "Number of polls (0 polls until interrupted)")
	result.Flags().DurationVar(&interval, "interval", time.Second, "Delay between polls")

	cmd.AddCommand(start, stop, result)
	return cmd
}

func runTestAction(cmd *cobra.Command, flags *rootFlags, action, arg string) error {
	mindex, err := parseMeterIndex(arg)
	if err != nil {
		return err
	}
	ctx, cancel := flags.context()
	defer cancel()
	if _, err := flags.client().do(ctx, http.MethodPut, "/test/"+action+"/"+mindex, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "test %s: meter %s\n", action, mindex)
	return nil
}

func newOpLogCmd(flags *rootFlags) *cobra.Command {
	var (
		op    string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "oplog",
		Short: "List recent gateway operations from the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if op != "" {
				q.Set("op", op)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/oplog"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			return runGet(cmd, flags, path)
		},
	}
	cmd.Flags().StringVar(&op, "op", "", "Filter by operation name")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records (server default 50)")
	return cmd
}

func runGet(cmd *cobra.Command, flags *rootFlags, path string) error {
	ctx, cancel := flags.context()
	defer cancel()
	data, err := flags.client().do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return writeData(cmd.OutOrStdout(), flags.output, data)
}

// parseMeterIndex 表位号 0..255
func parseMeterIndex(s string) (string, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return "", errors.New("mindex must be an integer in 0..255")
	}
	return strconv.FormatUint(v, 10), nil
}
