package fat

import (
	"strings"

	"github.com/dargueta/nanofat/nanoerr"
)

// ResolvePath walks a slash-separated path rooted either at the volume
// root (if path begins with "/") or at startCluster, returning the
// directory entry and its parent cluster on success. The resolver never
// reports which path component failed, matching the contract callers rely
// on.
func ResolvePath(dir *Directory, layout Layout, startCluster uint32, path string) (entry Dirent, parent uint32, err error) {
	cluster := startCluster
	if strings.HasPrefix(path, "/") {
		cluster = rootClusterOf(layout)
	}

	components := splitPathComponents(path)
	if len(components) == 0 {
		// The path names the directory itself; synthesize an entry for it.
		return Dirent{ShortName: ".", Attr: AttrDirectory, Cluster: cluster}, cluster, nil
	}

	parent = cluster
	for i, comp := range components {
		if comp == "." {
			continue
		}
		if comp == ".." {
			found, ok, ferr := dir.Find(cluster, "..")
			if ferr != nil {
				return Dirent{}, 0, ferr
			}
			next := rootClusterOf(layout)
			if ok {
				next = found.Cluster
				if layout.Variant == Variant32 && next == 0 {
					next = layout.RootCluster
				}
			}
			parent = cluster
			cluster = next
			continue
		}

		found, ok, ferr := dir.Find(cluster, comp)
		if ferr != nil {
			return Dirent{}, 0, ferr
		}
		if !ok {
			return Dirent{}, 0, nanoerr.New(nanoerr.ErrNotFound)
		}
		parent = cluster
		if i == len(components)-1 {
			entry = found
			return entry, parent, nil
		}
		if !found.IsDir() {
			return Dirent{}, 0, nanoerr.New(nanoerr.ErrNotADirectory)
		}
		cluster = found.Cluster
	}

	// Every remaining component was "." or "..": the path resolved to a
	// directory rather than a terminal file entry.
	return Dirent{ShortName: ".", Attr: AttrDirectory, Cluster: cluster}, parent, nil
}

func rootClusterOf(layout Layout) uint32 {
	if layout.Variant == Variant32 {
		return layout.RootCluster
	}
	return 0
}

func splitPathComponents(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SplitParentLeaf splits a path into its parent directory path and leaf
// name, the way every mutating file operation needs before resolving the
// parent and validating the leaf.
func SplitParentLeaf(path string) (parent, leaf string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	if idx == 0 {
		return "/", path[1:]
	}
	return path[:idx], path[idx+1:]
}

// IsValidName rejects "", "/", ".", "..", and any occurrence of a character
// this format's short/long names cannot carry.
func IsValidName(name string) bool {
	switch name {
	case "", "/", ".", "..":
		return false
	}
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return false
		}
	}
	return true
}
