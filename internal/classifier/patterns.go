package classifier

import (
	"strings"

	"github.com/smoothtask/smoothtask/internal/model"
)

// Pattern is one entry in the pattern database. A process matches when at
// least one of its non-empty predicate fields is satisfied; predicates left
// empty are ignored, and DesktopID is never consulted by Matches. Entries are evaluated in Priority order within a
// category, first match wins, mirroring the table-of-specs shape seen in
// the wider pack's tool registries (adapted here to category+priority
// match specs rather than executable tool bindings).
type Pattern struct {
	Category       string
	Priority       int
	ExePrefixes    []string
	CmdlineHas     []string
	DesktopID      string
	CgroupContains string
	SystemdUnit    string
	Type           model.ProcessType
	Tags           []string
}

// Matches reports whether p satisfies at least one of this pattern's
// non-empty ExePrefixes, CmdlineHas, CgroupContains or SystemdUnit
// predicates; DesktopID is not checked.
func (pt Pattern) Matches(p model.ProcessRecord) bool {
	for _, prefix := range pt.ExePrefixes {
		if prefix != "" && strings.HasPrefix(p.Exe, prefix) {
			return true
		}
	}
	for _, needle := range pt.CmdlineHas {
		for _, arg := range p.Cmdline {
			if needle != "" && strings.Contains(arg, needle) {
				return true
			}
		}
	}
	if pt.CgroupContains != "" && strings.Contains(p.CgroupPath, pt.CgroupContains) {
		return true
	}
	if pt.SystemdUnit != "" && p.SystemdUnit == pt.SystemdUnit {
		return true
	}
	return false
}

// DefaultPatterns is a small built-in pattern database covering common
// desktop applications. Operators extend it via the (out-of-scope) pattern
// file; this set is the fallback when no file is configured.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Category: "game", Priority: 10, ExePrefixes: []string{"/usr/bin/steam", "/usr/games/"}, Type: model.TypeGame, Tags: []string{"game"}},
		{Category: "browser", Priority: 10, ExePrefixes: []string{"/usr/bin/firefox", "/usr/bin/chromium", "/usr/bin/google-chrome"}, Type: model.TypeBrowser, Tags: []string{"browser"}},
		{Category: "ide", Priority: 10, ExePrefixes: []string{"/usr/bin/code", "/usr/share/jetbrains"}, CmdlineHas: []string{"code", "idea"}, Type: model.TypeIDE, Tags: []string{"ide"}},
		{Category: "audio_client", Priority: 10, CmdlineHas: []string{"pipewire", "pulseaudio"}, Type: model.TypeAudioClient, Tags: []string{"audio"}},
		{Category: "build_tool", Priority: 10, ExePrefixes: []string{"/usr/bin/cargo", "/usr/bin/make", "/usr/bin/ninja", "/usr/bin/gcc", "/usr/bin/clang", "/usr/bin/go"}, Type: model.TypeBuildTool, Tags: []string{"build_tool"}},
		{Category: "updater", Priority: 10, ExePrefixes: []string{"/usr/bin/apt", "/usr/bin/apt-get", "/usr/bin/dnf", "/usr/bin/pacman"}, Type: model.TypeUpdater, Tags: []string{"updater"}},
		{Category: "indexer", Priority: 10, ExePrefixes: []string{"/usr/bin/tracker-miner", "/usr/bin/baloo_file", "/usr/bin/updatedb"}, Type: model.TypeIndexer, Tags: []string{"indexer"}},
		{Category: "system_service", Priority: 10, SystemdUnit: "systemd-journald.service", Type: model.TypeSystemService},
	}
}
