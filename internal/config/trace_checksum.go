package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"sort"
)

type traceChecksumEntry struct {
	Key         string  `json:"key"`
	Index       int     `json:"index"`
	Count       int     `json:"count"`
	Hint        int     `json:"hint"`
	DurationMS  int     `json:"duration_ms"`
	ArrivalMS   int     `json:"arrival_ms"`
	SyncRatio   float64 `json:"sync_ratio"`
	SiblingHint int     `json:"sibling_hint"`
}

type traceChecksumPayload struct {
	Seed      int64                `json:"seed"`
	Workloads []traceChecksumEntry `json:"workloads"`
}

// TraceChecksum returns a short, stable checksum identifying the effective
// workload trace (the concrete task schedule that was executed), independent
// of topology or database settings.
//
// It computes MD5 over a canonical JSON representation and returns the first
// 6 hex characters (equivalent to `md5sum | cut -c1-6`).
func TraceChecksum(cfg *Config) (string, error) {
	if cfg == nil {
		return "", nil
	}

	entries := make([]traceChecksumEntry, 0, len(cfg.Workloads))
	for key, w := range cfg.Workloads {
		entries = append(entries, traceChecksumEntry{
			Key:         key,
			Index:       w.Index,
			Count:       w.Count,
			Hint:        w.Hint,
			DurationMS:  w.DurationMS,
			ArrivalMS:   w.ArrivalMS,
			SyncRatio:   w.SyncRatio,
			SiblingHint: w.SiblingHint,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Index != entries[j].Index {
			return entries[i].Index < entries[j].Index
		}
		return entries[i].Key < entries[j].Key
	})

	payload := traceChecksumPayload{Seed: cfg.Bench.Seed, Workloads: entries}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(b)
	hexStr := hex.EncodeToString(sum[:])
	if len(hexStr) > 6 {
		hexStr = hexStr[:6]
	}
	return hexStr, nil
}
