package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

var shardRegexp = regexp.MustCompile(`^egs\.([0-9]+)\.tar$`)

// DiscoverShards returns the egs.<N>.tar shards beneath root ordered by N. If
// root is itself a file it is returned as the only shard.
func DiscoverShards(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	type shard struct {
		path  string
		index int
	}
	var found []shard
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		m := shardRegexp.FindStringSubmatch(d.Name())
		if m == nil {
			return nil
		}
		index, err := strconv.Atoi(m[1])
		if err != nil {
			return fmt.Errorf("shard index %s: %w", d.Name(), err)
		}
		found = append(found, shard{path: path, index: index})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].index != found[j].index {
			return found[i].index < found[j].index
		}
		return found[i].path < found[j].path
	})
	paths := make([]string, len(found))
	for i, s := range found {
		paths[i] = s.path
	}
	return paths, nil
}

// DiscoverByRoot scans each root independently.
func DiscoverByRoot(roots []string) (map[string][]string, error) {
	result := make(map[string][]string, len(roots))
	for _, root := range roots {
		shards, err := DiscoverShards(root)
		if err != nil {
			return nil, err
		}
		result[root] = shards
	}
	return result, nil
}
