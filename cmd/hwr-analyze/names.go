package main

import (
	"fmt"
	"strconv"
	"strings"
)

// parseTriggerNames parses "1=trial_start,2=cue" into a type id map.
func parseTriggerNames(s string) (map[int]string, error) {
	names := make(map[int]string)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, name, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("%q: want id=name", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(id))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%q: empty name", part)
		}
		names[n] = name
	}
	return names, nil
}
