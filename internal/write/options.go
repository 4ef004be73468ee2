package write

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/vanpelt/xurl/internal/provider"
	"github.com/vanpelt/xurl/internal/uri"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Flag is one CLI option. A flag without a value is passed bare.
type Flag struct {
	Name  string
	Value string
}

// Args renders the flag as command-line arguments.
func (f Flag) Args() []string {
	if f.Value == "" {
		return []string{f.Name}
	}
	return []string{f.Name, f.Value}
}

// Options are the query parameters of a write after mapping them onto the
// provider CLI.
type Options struct {
	// Workdir is the child's working directory; empty means inherit
	Workdir string
	// Flags are mapped and passthrough flags in URI declaration order
	Flags    []Flag
	Warnings []string
}

func (o *Options) args() []string {
	var args []string
	for _, f := range o.Flags {
		args = append(args, f.Args()...)
	}
	return args
}

func (o *Options) ignore(key, reason string) {
	o.Warnings = append(o.Warnings, fmt.Sprintf("ignored query parameter `%s`: %s", key, reason))
}

// flagName limits passthrough keys to what a CLI could accept as a long
// option, so a key can never smuggle in a positional argument.
var flagName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// discoveryKeys only mean something when reading.
var discoveryKeys = map[string]bool{"q": true, "limit": true}

// ResolveOptions maps the query of a write reference onto desc's CLI. On
// append every key is ignored because thread options are fixed when the
// thread is created.
func ResolveOptions(desc provider.Descriptor, q uri.Query, create bool) (*Options, error) {
	opts := &Options{}
	if !create {
		for _, p := range q {
			opts.ignore(p.Key, "thread options are fixed at creation; append forwards the prompt only")
		}
		return opts, nil
	}

	workdirSlot := -1
	for _, p := range q {
		key, alias := provider.CanonicalKey(p.Key)
		if alias {
			opts.Warnings = append(opts.Warnings,
				fmt.Sprintf("query parameter `%s` is deprecated; use `%s`", p.Key, key))
		}

		switch {
		case key == provider.KeyWorkdir:
			dir, err := workdir(p.Value)
			if err != nil {
				return nil, err
			}
			// Repeated workdir: the last one wins.
			opts.Workdir = dir
			flag, ok := desc.CreateFlagMap[provider.KeyWorkdir]
			if !ok || flag == "" {
				continue
			}
			if workdirSlot < 0 {
				workdirSlot = len(opts.Flags)
				opts.Flags = append(opts.Flags, Flag{Name: flag})
			}
			opts.Flags[workdirSlot].Value = dir

		case key == provider.KeyAddDir:
			flag, ok := desc.CreateFlagMap[provider.KeyAddDir]
			switch {
			case !ok:
				opts.ignore(p.Key, desc.DisplayName+" CLI has no compatible option")
			case p.Value == "":
				opts.ignore(p.Key, "empty directory")
			default:
				dir, err := filepath.Abs(p.Value)
				if err != nil {
					dir = p.Value
				}
				opts.Flags = append(opts.Flags, Flag{Name: flag, Value: dir})
			}

		case desc.IsReserved(key):
			opts.ignore(p.Key, "reserved by xurl for this provider")

		case discoveryKeys[key]:
			opts.ignore(p.Key, "only valid when reading or listing")

		case !flagName.MatchString(key):
			opts.ignore(p.Key, "not a valid option name")

		default:
			opts.Flags = append(opts.Flags, Flag{Name: "--" + key, Value: p.Value})
		}
	}
	return opts, nil
}

func workdir(value string) (string, error) {
	if value == "" {
		return "", xerr.New(xerr.KindInvalidWorkdir, "workdir must not be empty")
	}
	dir, err := filepath.Abs(value)
	if err != nil {
		return "", xerr.Wrap(xerr.KindInvalidWorkdir, err, "invalid workdir %q", value)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return "", xerr.Wrap(xerr.KindInvalidWorkdir, err, "invalid workdir %q", value)
	}
	if !info.IsDir() {
		return "", xerr.New(xerr.KindInvalidWorkdir, "workdir is not a directory: %s", dir)
	}
	return dir, nil
}
