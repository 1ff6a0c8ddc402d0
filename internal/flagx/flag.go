// Package flagx supports the layered config parsing used by both the
// server and the client: the JSON-file flag and the override flags are
// parsed by separate flag sets over the same os.Args, so each parser
// must only be shown the arguments it owns.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps the arguments belonging to the given flag names and
// drops everything else. Both the "-f value" and the "-f=value" forms
// are recognized, with single or double dashes.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, name := range allowedFlags {
		allowed[name] = struct{}{}
	}

	kept := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") {
			if name, _, found := strings.Cut(arg, "="); found {
				if _, ok := allowed[name]; ok {
					kept = append(kept, arg)
				}
				continue
			}
		}

		if _, ok := allowed[arg]; ok {
			kept = append(kept, arg)
			// a following non-flag argument is this flag's value
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				kept = append(kept, args[i+1])
				i++
			}
		}
	}

	return kept
}

// JsonConfigFlags extracts the config file path passed as -c or
// -config, ignoring every other argument so the caller's own flag set
// stays undisturbed. Returns "" when neither flag is present.
func JsonConfigFlags() string {
	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	var path string
	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(args)

	return path
}
