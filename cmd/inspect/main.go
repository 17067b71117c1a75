package main

import (
	"flag"
	"fmt"
	"os"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// inspect dumps store keys for debugging a relay database offline.
func main() {
	var (
		path   string
		prefix string
	)
	flag.StringVar(&path, "db", "", "pebble db path")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter (e.g. session: or msg:)")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init()
	if err := store.Open(path); err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	keys, err := store.ListKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
		os.Exit(1)
	}
	for _, k := range keys {
		fmt.Println(k)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", len(keys))
}
