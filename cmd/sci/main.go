// sci - command-line driver for the scivm script VM
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/scivm/manifest"
	"github.com/chazu/scivm/savestore"
	"github.com/chazu/scivm/vm"
)

func main() {
	dir := flag.String("C", ".", "Directory to search for scivm.toml")
	verbose := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sci [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  selectors [vocab.toml]       Print the selector table of a vocabulary\n")
		fmt.Fprintf(os.Stderr, "  saves [list|delete <slot>]   Manage save slots\n")
		fmt.Fprintf(os.Stderr, "  inspect <file>|-slot <name>  Summarize a snapshot\n")
		fmt.Fprintf(os.Stderr, "  demo [-frames n] [-save s]   Run the built-in demo scene\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	m, err := loadManifest(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, *verbose)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "selectors":
		err = handleSelectorsCommand(args[1:], m)
	case "saves":
		err = handleSavesCommand(args[1:], m)
	case "inspect":
		err = handleInspectCommand(args[1:], m)
	case "demo":
		err = handleDemoCommand(args[1:], m)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(dir), nil
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest, verbose int) {
	verbosity := m.Log.Verbosity
	if verbose >= 0 {
		verbosity = verbose
	}
	if path := m.LogFilePath(); path != "" {
		commonlog.Configure(verbosity, &path)
	} else {
		commonlog.Configure(verbosity, nil)
	}
}

// loadVocabulary reads the vocabulary named on the command line or in the
// manifest, falling back to the demo vocabulary when neither exists.
func loadVocabulary(args []string, m *manifest.Manifest) (*vm.Vocabulary, error) {
	path := m.VocabularyPath()
	if len(args) > 0 {
		path = args[0]
	} else if _, err := os.Stat(path); err != nil {
		return demoVocabulary(), nil
	}
	return manifest.LoadVocabulary(path)
}

// handleSelectorsCommand processes the `sci selectors` subcommand.
func handleSelectorsCommand(args []string, m *manifest.Manifest) error {
	vocab, err := loadVocabulary(args, m)
	if err != nil {
		return err
	}
	st, err := vm.NewSelectorTable(vocab)
	if err != nil {
		return err
	}
	fmt.Printf("vocabulary %s (%d selectors)\n", st.Version(), st.Len())
	fmt.Printf("identity   %s\n\n", hex.EncodeToString(st.Identity()))
	for id := 0; id < st.Len(); id++ {
		if name := st.Name(vm.Selector(id)); name != "" {
			fmt.Printf("%5d  %s\n", id, name)
		}
	}
	return nil
}

// handleSavesCommand processes the `sci saves` subcommand.
// Usage:
//
//	sci saves [list]         List save slots, newest first
//	sci saves delete <slot>  Delete a save slot
func handleSavesCommand(args []string, m *manifest.Manifest) error {
	store, err := savestore.Open(m.DatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 0 || args[0] == "list" {
		slots, err := store.List()
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			fmt.Println("no saves")
			return nil
		}
		for _, slot := range slots {
			fmt.Printf("%-20s %8d bytes  %s  %s\n", slot.Name, slot.Size,
				slot.Created.Format("2006-01-02 15:04:05"), shortHash(slot.Identity))
		}
		return nil
	}

	switch args[0] {
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: sci saves delete <slot>")
		}
		if err := store.Delete(args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown saves subcommand: %s", args[0])
	}
}

// handleInspectCommand processes the `sci inspect` subcommand.
func handleInspectCommand(args []string, m *manifest.Manifest) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	slot := fs.String("slot", "", "Read the snapshot from a save slot")
	fs.Parse(args)

	var data []byte
	switch {
	case *slot != "":
		store, err := savestore.Open(m.DatabasePath())
		if err != nil {
			return err
		}
		defer store.Close()
		if data, _, err = store.Load(*slot); err != nil {
			return err
		}
	case fs.NArg() > 0:
		var err error
		if data, err = os.ReadFile(fs.Arg(0)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("usage: sci inspect <file> | -slot <name>")
	}

	info, err := vm.InspectSnapshot(data)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot v%d, %d bytes\n", info.Version, len(data))
	fmt.Printf("vocabulary %s (%s)\n", info.VocabVersion, shortHash(info.Identity))
	fmt.Printf("state      %s, %d frames, %d ticks\n", info.State, info.Frames, info.Ticks)
	fmt.Printf("segments   %d live of %d\n", info.LiveSegments, info.Segments)

	kinds := make([]vm.SegmentKind, 0, len(info.SegmentCounts))
	for k := range info.SegmentCounts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Printf("  %-8s %d\n", k, info.SegmentCounts[k])
	}
	return nil
}

func shortHash(b []byte) string {
	if len(b) > 6 {
		b = b[:6]
	}
	return hex.EncodeToString(b)
}
