package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SelectSteps lists ids with 1-based numbers and reads a comma-separated
// choice such as "1,4,8". The chosen ids are returned in the order typed.
func SelectSteps(ctx context.Context, r *Reader, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, errors.New("console: no steps to choose from")
	}
	fmt.Fprintln(r.out, "Available conversation steps:")
	for i, id := range ids {
		fmt.Fprintf(r.out, "%d. %s\n", i+1, id)
	}
	answer, err := r.Ask(ctx, "Enter the numbers of the steps you want to include (comma-separated): ")
	if err != nil {
		return nil, err
	}
	return parseSelection(answer, ids)
}

func parseSelection(answer string, ids []string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > len(ids) {
			return nil, fmt.Errorf("console: %q is not a step number between 1 and %d", part, len(ids))
		}
		out = append(out, ids[n-1])
	}
	if len(out) == 0 {
		return nil, errors.New("console: no steps selected")
	}
	return out, nil
}
