package supervisor

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
)

// runtimeConfigEnv is the environment variable set on the media-service
// child process pointing it at the resolved runtime configuration file.
const runtimeConfigEnv = "FOVEATE_MEDIA_RUNTIME_CONFIG"

// findRuntimeConfig recursively searches the releases/ subtree alongside
// execDir for runtime configuration files, returning the lexicographically
// first match. Resolves Open Question (a): traversal order is not
// guaranteed stable across filesystems, so candidates are explicitly
// sorted before the first is chosen.
func findRuntimeConfig(execDir string) (string, error) {
	root := filepath.Join(execDir, "releases")

	var candidates []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Base(path) == "runtime.json" {
			candidates = append(candidates, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("supervisor: search %s: %w", root, err)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("supervisor: no runtime config found under %s", root)
	}

	sort.Strings(candidates)
	if len(candidates) > 1 {
		log.Warn("multiple runtime config candidates found, picking first lexicographically",
			"chosen", candidates[0], "total", len(candidates))
	}
	return candidates[0], nil
}
