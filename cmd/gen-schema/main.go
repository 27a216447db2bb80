// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Command gen-schema writes the JSON Schema of every auth request body to
// schemas/<name>.schema.json.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hilsha/gatehouse/internal/web"
)

func main() {
	outDir := "schemas"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := generate(outDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schemas: %v\n", err)
		os.Exit(1)
	}
}

func generate(outDir string) error {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	for _, name := range web.SchemaNames() {
		schema, err := web.GenerateSchema(name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, name+".schema.json")
		if err := os.WriteFile(outPath, schema, 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", outPath, err)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
	return nil
}
