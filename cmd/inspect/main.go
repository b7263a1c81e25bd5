// inspect is an offline look at a chainbot database: list persisted
// chains or dump one as JSON. Run it only while the bot is stopped; the
// store takes an exclusive lock.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"chainbot/pkg/logger"
	"chainbot/pkg/store"
)

func main() {
	var (
		path = flag.String("path", "", "path to the chain store (the <db>/store directory)")
		id   = flag.String("id", "", "dump a single chain by id")
	)
	flag.Parse()
	if *path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init()

	if err := store.Open(*path); err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *id != "" {
		snap, err := store.GetChain(*id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "get chain %s: %v\n", *id, err)
			os.Exit(1)
		}
		_ = enc.Encode(snap)
		return
	}

	snaps, err := store.LoadAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load chains: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d chains\n", len(snaps))
	for _, s := range snaps {
		fmt.Printf("%s  title=%q  replies=%d  ended=%v  public=%v\n",
			s.ID, s.Title, len(s.Order), s.Ended, s.Public)
	}
}
