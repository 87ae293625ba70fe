package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var propsCmd = &cobra.Command{
	Use:   "props <device-address>",
	Short: "Show pairing and connection state",
	Args:  cobra.ExactArgs(1),
	RunE:  runProps,
}

var propsJSON bool

func init() {
	propsCmd.Flags().BoolVar(&propsJSON, "json", false, "Output as JSON")
}

func runProps(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	dev, err := s.device(ctx, args[0])
	if err != nil {
		return err
	}
	props, err := dev.GetDeviceProperties(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if propsJSON {
		return json.NewEncoder(out).Encode(props)
	}

	printHeader(out, "%s (%s)", dev.Name(), dev.Address())
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Paired:\t%t\n", props.Paired)
	fmt.Fprintf(w, "Trusted:\t%t\n", props.Trusted)
	fmt.Fprintf(w, "Connected:\t%t\n", props.Connected)
	return w.Flush()
}
