package detour

import (
	"fmt"
	"maps"
	"sort"
)

// OptionArguments are -o options for the ssh client, for example
// BatchMode: true becomes -o BatchMode=yes.
type OptionArguments map[string]any

// DefaultOptionArguments are the options tunnels run with unless
// overridden. The keepalive interval makes the client notice a dead hop
// and exit, which the reaper then observes.
var DefaultOptionArguments = OptionArguments{
	"ServerAliveInterval":  "300",
	"ServerAliveCountMax":  "3",
	"ExitOnForwardFailure": true,
	"BatchMode":            true,
}

// Copy returns a detached copy of the option set.
func (o OptionArguments) Copy() OptionArguments {
	return maps.Clone(o)
}

// Set sets an option key to value, replacing any previous value.
func (o OptionArguments) Set(key string, value any) {
	o[key] = value
}

// ToArgs renders the set as -o arguments in key order, so the same
// options always produce the same command line. Booleans become the
// client's yes/no words, everything else is formatted verbatim.
func (o OptionArguments) ToArgs() []string {
	keys := make([]string, 0, len(o))
	for key := range o {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		rendered := ""
		switch value := o[key].(type) {
		case bool:
			if value {
				rendered = "yes"
			} else {
				rendered = "no"
			}
		default:
			rendered = fmt.Sprint(value)
		}
		args = append(args, "-o", key+"="+rendered)
	}
	return args
}
