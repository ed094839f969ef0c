// Package flagx lets several config layers share os.Args without tripping
// over each other's flags.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigEnvVar names the config file when neither -c nor -config is given.
const ConfigEnvVar = "ACCOUNT_CONFIG"

// FilterArgs keeps only the flags listed in allowed, together with their
// values. Both "-c conf.json" and "-config=conf.json" forms are recognised. A
// following token that starts with "-" is never consumed as a value, and
// flags named in boolFlags never consume one at all.
// The result is never nil.
func FilterArgs(args []string, allowed []string, boolFlags ...string) []string {
	kind := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		kind[f] = false
	}
	for _, f := range boolFlags {
		kind[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if _, known := kind[name]; known {
				out = append(out, arg)
			}
			continue
		}

		isBool, known := kind[arg]
		if !known {
			continue
		}
		out = append(out, arg)
		if !isBool && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// JsonConfigFlags returns the config file path from -c / -config, falling
// back to $ACCOUNT_CONFIG. Empty means no file.
func JsonConfigFlags() string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(FilterArgs(os.Args[1:], []string{"-c", "-config"}))

	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	return path
}
