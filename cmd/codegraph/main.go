// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command codegraph indexes a Python codebase into a vector-backed
// code graph and answers structural queries over it.
//
// Usage:
//
//	codegraph index ./myproject
//	codegraph query "http request retry logic"
//	codegraph hubs --top 10
//	codegraph impact parse_config
//	codegraph watch ./myproject
//
// A local Weaviate and an OpenAI-compatible embedding endpoint (such
// as Ollama) are expected; configuration is read from
// ~/.codegraph/codegraph.yaml or the --config flag.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
