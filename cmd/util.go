package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/diffsec/vectorcore/internal/pointid"
)

func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}

func parseIDList(s string) ([]pointid.ID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]pointid.ID, len(parts))
	for i, p := range parts {
		id, err := pointid.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}
