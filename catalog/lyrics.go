package catalog

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"resona/model"
)

// lrcTimestamp matches one [mm:ss] or [mm:ss.xx] tag; a line may carry
// several, all sharing the text that follows the last tag.
var lrcTimestamp = regexp.MustCompile(`\[(\d{1,3}):(\d{2})(?:\.(\d{1,3}))?\]`)

// ParseLRC parses LRC-format lyrics into time-ordered lines. Metadata tags
// like [ar:...] and malformed lines are skipped rather than rejected.
func ParseLRC(r io.Reader) ([]model.LyricLine, error) {
	var out []model.LyricLine
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		matches := lrcTimestamp.FindAllStringSubmatchIndex(line, -1)
		if len(matches) == 0 {
			continue
		}
		text := strings.TrimSpace(line[matches[len(matches)-1][1]:])
		for _, m := range matches {
			at, err := lrcSeconds(line, m)
			if err != nil {
				continue
			}
			out = append(out, model.LyricLine{AtSeconds: at, Text: text})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lyrics: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AtSeconds < out[j].AtSeconds })
	return out, nil
}

func lrcSeconds(line string, m []int) (float64, error) {
	minutes, err := strconv.Atoi(line[m[2]:m[3]])
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.Atoi(line[m[4]:m[5]])
	if err != nil {
		return 0, err
	}
	total := float64(minutes*60 + seconds)
	if m[6] >= 0 {
		frac := line[m[6]:m[7]]
		f, err := strconv.ParseFloat("0."+frac, 64)
		if err != nil {
			return 0, err
		}
		total += f
	}
	return total, nil
}
