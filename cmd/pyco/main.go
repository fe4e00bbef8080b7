// Pyco CLI - builds and inspects PYC. program containers
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 quiet, 1 info, 2 debug)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pyco [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Turns compiled program records into mappable .pyc containers.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  build [-o out.pyc] [-report] [-no-cache] [-immediates] prog.cbor\n")
		fmt.Fprintf(os.Stderr, "        Build a container from a program record\n")
		fmt.Fprintf(os.Stderr, "  inspect file.pyc\n")
		fmt.Fprintf(os.Stderr, "        Print a human-readable dump of a container\n")
		fmt.Fprintf(os.Stderr, "  cache [stats|clear]\n")
		fmt.Fprintf(os.Stderr, "        Show or empty the compile cache\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  pyco build prog.cbor             # writes prog.pyc\n")
		fmt.Fprintf(os.Stderr, "  pyco build -report prog.cbor     # also dumps the pools\n")
		fmt.Fprintf(os.Stderr, "  pyco -v 1 build prog.cbor        # log cache and build steps\n")
		fmt.Fprintf(os.Stderr, "  pyco inspect prog.pyc\n")
		fmt.Fprintf(os.Stderr, "  pyco cache clear\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	switch args[0] {
	case "build":
		handleBuildCommand(args[1:])
	case "inspect":
		handleInspectCommand(args[1:])
	case "cache":
		handleCacheCommand(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
}

// fatalf prints an error and exits; build errors are terminal, there
// is no partial output to salvage.
func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
