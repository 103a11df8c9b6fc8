package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/4store-go/storekit/lockfile"
	"github.com/4store-go/storekit/mhash"
)

func init() {
	mhashCmd := &cobra.Command{
		Use:   "mhash",
		Short: "Inspect model hash files",
	}

	infoCmd := &cobra.Command{
		Use:   "info <path>",
		Short: "Report a model hash's size, occupancy, and probe bound",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMhashInfo(args[0])
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <path> <rid>",
		Short: "Look up a single rid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMhashGet(args[0], args[1])
		},
	}

	mhashCmd.AddCommand(infoCmd, getCmd)
	rootCmd.AddCommand(mhashCmd)
}

func runMhashInfo(path string) error {
	printVerbose("Opening model hash: %s\n", path)
	h, err := mhash.Open(path, lockfile.ReadOnly)
	if err != nil {
		return fmt.Errorf("failed to open model hash: %w", err)
	}
	defer h.Close()

	if jsonOut {
		return printJSON(map[string]interface{}{
			"path":  path,
			"size":  h.Size(),
			"count": h.Count(),
		})
	}

	printInfo("\nModel Hash Information:\n")
	printInfo("  File: %s\n", path)
	printInfo("  Size: %d slots\n", h.Size())
	printInfo("  Count: %d occupied\n", h.Count())
	return nil
}

func runMhashGet(path, ridStr string) error {
	rid, err := strconv.ParseUint(ridStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid rid %q: %w", ridStr, err)
	}

	h, err := mhash.Open(path, lockfile.ReadOnly)
	if err != nil {
		return fmt.Errorf("failed to open model hash: %w", err)
	}
	defer h.Close()

	val, err := h.Get(rid)
	if err != nil {
		return fmt.Errorf("get %d: %w", rid, err)
	}

	if jsonOut {
		return printJSON(map[string]interface{}{"rid": rid, "val": val})
	}
	printInfo("%d\n", val)
	return nil
}
