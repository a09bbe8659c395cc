package iproute

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// DefaultTableDirs are the iproute2 configuration directories, vendor
// defaults first.
var DefaultTableDirs = []string{"/usr/share/iproute2", "/etc/iproute2"}

// TableNames maps routing table names registered in rt_tables to ids.
type TableNames map[string]int

// ID resolves a table as printed by ip(8): a number, a reserved name or a
// name registered in rt_tables.
func (n TableNames) ID(name string) (int, bool) {
	if id, ok := n[name]; ok {
		return id, true
	}
	switch name {
	case "main":
		return TableMain, true
	case "local":
		return TableLocal, true
	case "default":
		return TableDefault, true
	}
	id, err := strconv.Atoi(name)
	if err != nil {
		return 0, false
	}
	return id, true
}

// LoadTableNames reads rt_tables and rt_tables.d/*.conf from each dir.
// Missing files are skipped.
func LoadTableNames(dirs ...string) (TableNames, error) {
	names := make(TableNames)
	for _, dir := range dirs {
		files := []string{filepath.Join(dir, "rt_tables")}
		extra, err := filepath.Glob(filepath.Join(dir, "rt_tables.d", "*.conf"))
		if err != nil {
			return nil, err
		}
		sort.Strings(extra)
		files = append(files, extra...)

		for _, file := range files {
			if err := readTableNames(file, names); err != nil {
				return nil, err
			}
		}
	}
	return names, nil
}

func readTableNames(path string, names TableNames) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseUint(fields[0], 0, 32)
		if err != nil {
			continue
		}
		names[fields[1]] = int(id)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
