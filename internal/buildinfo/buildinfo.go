package buildinfo

import "runtime/debug"

// Ces variables sont typiquement injectées à la compilation via -ldflags.
// Exemple :
//
//	-X github.com/rmasciarella/Vulcan-MES-sub002/internal/buildinfo.Version=v0.1.0
//	-X github.com/rmasciarella/Vulcan-MES-sub002/internal/buildinfo.Commit=abcdef
//	-X github.com/rmasciarella/Vulcan-MES-sub002/internal/buildinfo.Date=2026-10-19
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"goVersion,omitempty"`
}

// Current complète le commit avec les infos VCS du binaire quand -ldflags ne
// l'a pas fourni.
func Current() Info {
	info := Info{Version: Version, Commit: Commit, Date: Date}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		}
	}
	return info
}
