package backend

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeCounts converts a counts histogram whose keys are hex-encoded,
// little-endian bit patterns (the shape a numerical kernel modelled on a
// state-vector simulator emits) into fixed-width binary strings of length
// numClbits, most-significant bit first, matching conventional measurement
// ordering. Keys that are already binary (no "0x" prefix, only "0" and
// "1" digits) pass through unchanged once left-padded to numClbits.
func NormalizeCounts(counts map[string]int, numClbits int) (map[string]int, error) {
	out := make(map[string]int, len(counts))
	for key, n := range counts {
		bits, err := toBinaryMSB(key, numClbits)
		if err != nil {
			return nil, fmt.Errorf("backend: normalizing count key %q: %w", key, err)
		}
		out[bits] += n
	}
	return out, nil
}

func toBinaryMSB(key string, numClbits int) (string, error) {
	if key != "" && !strings.HasPrefix(strings.ToLower(key), "0x") && strings.Trim(key, "01") == "" {
		if len(key) < numClbits {
			key = strings.Repeat("0", numClbits-len(key)) + key
		}
		return key, nil
	}
	trimmed := strings.TrimPrefix(strings.ToLower(key), "0x")
	value, err := strconv.ParseUint(trimmed, 16, 64)
	if err != nil {
		return "", err
	}
	bits := make([]byte, numClbits)
	for i := 0; i < numClbits; i++ {
		// bit i (little-endian, qubit/clbit index i) becomes position
		// numClbits-1-i in the MSB-first rendering.
		if value&(1<<uint(i)) != 0 {
			bits[numClbits-1-i] = '1'
		} else {
			bits[numClbits-1-i] = '0'
		}
	}
	return string(bits), nil
}

// ExtractCounts pulls results[0].data.counts out of a kernel's result
// object, tolerating both map[string]int and the map[string]any shape
// encoding/json produces when decoding arbitrary numeric types.
func ExtractCounts(result map[string]any) (map[string]int, error) {
	results, ok := result["results"].([]any)
	if !ok || len(results) == 0 {
		return nil, fmt.Errorf("backend: result has no results entries")
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("backend: results[0] has unexpected shape")
	}
	data, ok := first["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("backend: results[0].data has unexpected shape")
	}
	rawCounts, ok := data["counts"]
	if !ok {
		return nil, fmt.Errorf("backend: results[0].data.counts missing")
	}

	out := map[string]int{}
	switch c := rawCounts.(type) {
	case map[string]int:
		for k, v := range c {
			out[k] = v
		}
	case map[string]any:
		for k, v := range c {
			switch n := v.(type) {
			case float64:
				out[k] = int(n)
			case int:
				out[k] = n
			default:
				return nil, fmt.Errorf("backend: count value for %q has unexpected type %T", k, v)
			}
		}
	default:
		return nil, fmt.Errorf("backend: counts has unexpected type %T", rawCounts)
	}
	return out, nil
}

// PutCounts writes counts back into the results[0].data.counts slot of
// result, overwriting whatever was there.
func PutCounts(result map[string]any, counts map[string]int) {
	results, _ := result["results"].([]any)
	if len(results) == 0 {
		return
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return
	}
	data, ok := first["data"].(map[string]any)
	if !ok {
		data = map[string]any{}
		first["data"] = data
	}
	data["counts"] = counts
}
