// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"os"

	"github.com/luxfi/relay/cmd/relayd/run"
)

func main() {
	if err := run.Command().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "relayd failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
