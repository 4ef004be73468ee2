// Package provider holds the static table of supported agent tools and what
// each of them can do.
package provider

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/vanpelt/xurl/internal/xerr"
)

// Kind names a provider. The string value is the URI scheme/segment.
type Kind string

const (
	Amp      Kind = "amp"
	Codex    Kind = "codex"
	Claude   Kind = "claude"
	Gemini   Kind = "gemini"
	Pi       Kind = "pi"
	Opencode Kind = "opencode"
)

func (k Kind) String() string {
	return string(k)
}

// ChildDiscovery is how a provider finds children of a conversation.
type ChildDiscovery int

const (
	// NoneSupported providers have no child concept.
	NoneSupported ChildDiscovery = iota
	// SqliteParentID follows a parent-reference column in an embedded database.
	SqliteParentID
	// EmbeddedList scans the conversation's own records for spawn/compact markers.
	EmbeddedList
	// DirectoryScan scans sibling conversation files for a parent reference.
	DirectoryScan
)

func (c ChildDiscovery) String() string {
	switch c {
	case SqliteParentID:
		return "sqlite_parent_id"
	case EmbeddedList:
		return "embedded_list"
	case DirectoryScan:
		return "directory_scan"
	default:
		return "none"
	}
}

// Canonical create-time query keys.
const (
	KeyWorkdir = "workdir"
	KeyAddDir  = "add_dir"
)

// Deprecated spellings accepted for the canonical keys.
var keyAliases = map[string]string{
	"cd":      KeyWorkdir,
	"add-dir": KeyAddDir,
}

// CanonicalKey maps a deprecated query key spelling to its canonical form.
// The second result is true when key was an alias.
func CanonicalKey(key string) (string, bool) {
	if canonical, ok := keyAliases[key]; ok {
		return canonical, true
	}
	return key, false
}

// Descriptor is the capability record for one provider.
type Descriptor struct {
	Kind              Kind
	DisplayName       string
	SupportsChildPath bool
	ChildDiscovery    ChildDiscovery

	// CreateFlagMap maps canonical create keys to CLI flags. A key mapped to
	// the empty string is honoured without a flag (workdir becomes the
	// process working directory). A missing key is unsupported.
	CreateFlagMap map[string]string

	// ReservedKeys are flags the dispatcher manages itself.
	ReservedKeys map[string]struct{}

	// StripThreadsSegment drops a leading "threads/" path segment.
	StripThreadsSegment bool

	sessionID func(string) (string, bool)
	childID   func(string) (string, bool)
}

// BinaryEnv is the environment variable overriding the provider CLI path.
func (d Descriptor) BinaryEnv() string {
	return "XURL_" + strings.ToUpper(string(d.Kind)) + "_BIN"
}

// IsReserved reports whether key collides with a dispatcher-managed flag.
func (d Descriptor) IsReserved(key string) bool {
	_, ok := d.ReservedKeys[key]
	return ok
}

// NormalizeSessionID validates a main conversation id and returns its
// canonical spelling.
func (d Descriptor) NormalizeSessionID(id string) (string, bool) {
	if d.sessionID == nil {
		return id, id != ""
	}
	return d.sessionID(id)
}

// NormalizeChildID validates a child id and returns its canonical spelling.
func (d Descriptor) NormalizeChildID(id string) (string, bool) {
	if d.childID == nil {
		return id, id != ""
	}
	return d.childID(id)
}

// ValidateSessionID returns the canonical id or an InvalidUri error.
func (d Descriptor) ValidateSessionID(id string) (string, error) {
	normalized, ok := d.NormalizeSessionID(id)
	if !ok {
		return "", xerr.New(xerr.KindInvalidURI, "invalid session id for %s: %s", d.Kind, id)
	}
	return normalized, nil
}

// ValidateChildID returns the canonical child id or an InvalidUri error.
func (d Descriptor) ValidateChildID(id string) (string, error) {
	normalized, ok := d.NormalizeChildID(id)
	if !ok {
		return "", xerr.New(xerr.KindInvalidURI, "invalid child id for %s: %s", d.Kind, id)
	}
	return normalized, nil
}

var (
	opencodeIDRe = regexp.MustCompile(`^ses_[0-9A-Za-z]+$`)
	piEntryIDRe  = regexp.MustCompile(`^[0-9a-fA-F]{8}$`)
)

// IsUUID reports whether s is a hyphenated 36 character UUID.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

func uuidID(s string) (string, bool) {
	if !IsUUID(s) {
		return s, false
	}
	return strings.ToLower(s), true
}

func ampID(s string) (string, bool) {
	if len(s) != 38 || !(strings.HasPrefix(s, "T-") || strings.HasPrefix(s, "t-")) || !IsUUID(s[2:]) {
		return s, false
	}
	return "T-" + strings.ToLower(s[2:]), true
}

func opencodeID(s string) (string, bool) {
	return s, opencodeIDRe.MatchString(s)
}

// lenientUUID lowercases UUID-shaped ids and keeps anything else verbatim.
func lenientUUID(s string) (string, bool) {
	if IsUUID(s) {
		return strings.ToLower(s), true
	}
	return s, s != ""
}

func piChildID(s string) (string, bool) {
	if IsUUID(s) || piEntryIDRe.MatchString(s) {
		return strings.ToLower(s), true
	}
	return s, false
}

func reserved(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

var registry = map[Kind]Descriptor{
	Amp: {
		Kind:              Amp,
		DisplayName:       "Amp",
		SupportsChildPath: true,
		ChildDiscovery:    EmbeddedList,
		CreateFlagMap:     map[string]string{KeyWorkdir: ""},
		ReservedKeys:      reserved("x", "execute", "stream-json"),
		sessionID:         ampID,
		childID:           ampID,
	},
	Codex: {
		Kind:                Codex,
		DisplayName:         "Codex",
		SupportsChildPath:   true,
		ChildDiscovery:      EmbeddedList,
		CreateFlagMap:       map[string]string{KeyWorkdir: "--cd", KeyAddDir: "--add-dir"},
		ReservedKeys:        reserved("json", "experimental-json"),
		StripThreadsSegment: true,
		sessionID:           uuidID,
		childID:             lenientUUID,
	},
	Claude: {
		Kind:              Claude,
		DisplayName:       "Claude Code",
		SupportsChildPath: true,
		ChildDiscovery:    EmbeddedList,
		CreateFlagMap:     map[string]string{KeyWorkdir: "", KeyAddDir: "--add-dir"},
		ReservedKeys:      reserved("p", "print", "verbose", "output-format", "input-format", "resume", "continue"),
		sessionID:         uuidID,
	},
	Gemini: {
		Kind:              Gemini,
		DisplayName:       "Gemini CLI",
		SupportsChildPath: true,
		ChildDiscovery:    DirectoryScan,
		CreateFlagMap:     map[string]string{KeyWorkdir: "", KeyAddDir: "--include-directories"},
		ReservedKeys:      reserved("p", "prompt", "output-format", "resume"),
		sessionID:         uuidID,
		childID:           lenientUUID,
	},
	Pi: {
		Kind:              Pi,
		DisplayName:       "Pi",
		SupportsChildPath: true,
		ChildDiscovery:    EmbeddedList,
		CreateFlagMap:     map[string]string{KeyWorkdir: ""},
		ReservedKeys:      reserved("p", "print", "mode", "session"),
		sessionID:         uuidID,
		childID:           piChildID,
	},
	Opencode: {
		Kind:              Opencode,
		DisplayName:       "OpenCode",
		SupportsChildPath: true,
		ChildDiscovery:    SqliteParentID,
		CreateFlagMap:     map[string]string{KeyWorkdir: "--dir"},
		ReservedKeys:      reserved("format", "session", "dir"),
		sessionID:         opencodeID,
		childID:           opencodeID,
	},
}

// Resolve returns the descriptor registered for name.
func Resolve(name string) (Descriptor, error) {
	d, ok := registry[Kind(strings.ToLower(name))]
	if !ok {
		return Descriptor{}, xerr.New(xerr.KindUnknownProvider, "unsupported provider: %s", name)
	}
	return d, nil
}

// MustResolve is Resolve for kinds known at compile time.
func MustResolve(kind Kind) Descriptor {
	d, err := Resolve(string(kind))
	if err != nil {
		panic(err)
	}
	return d
}

// All returns every registered descriptor ordered by name.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
