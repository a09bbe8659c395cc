package metrics

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/nextrouter/nextrouter/internal/iproute"
)

// CountRuleMapEntries returns the number of rules recorded in the rule map
// written by apply. A missing file counts as zero entries.
func CountRuleMapEntries(path string) (int, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return 0, nil
	}

	if err := iproute.ValidateMapPath(cleanPath); err != nil {
		return 0, err
	}

	file, err := os.Open(cleanPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open rule map %s: %w", cleanPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}

	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan rule map %s: %w", cleanPath, err)
	}

	return count, nil
}
