package history

import (
	"encoding/json"
	"math"
	"sort"

	"go.etcd.io/bbolt"

	"pullsched/scheduler"
)

// AddonRuntimeStats reports average and p95 runtime for one addon_id.
type AddonRuntimeStats struct {
	AddonID    string  `json:"addon_id"`
	Count      int     `json:"count"`
	AvgRuntimeS float64 `json:"avg_runtime_s"`
	P95RuntimeS float64 `json:"p95_runtime_s"`
}

// Stats is the aggregate returned by GET /scheduler/history/stats.
type Stats struct {
	Days          int                          `json:"days"`
	Total         int                          `json:"total"`
	StateCounts   map[string]int               `json:"state_counts"`
	SuccessRate   float64                      `json:"success_rate"`
	AvgQueueWaitS float64                      `json:"avg_queue_wait_s"`
	PerAddon      []AddonRuntimeStats          `json:"per_addon"`
}

// Stats scans job_history rows with CreatedAt within the last `days` days
// and computes totals, per-state counts, success rate, average queue wait
// and per-addon runtime statistics (avg, p95).
func (s *Store) Stats(days int) (Stats, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := s.clk.Now().AddDate(0, 0, -days)

	out := Stats{Days: days, StateCounts: make(map[string]int)}
	byAddon := make(map[string][]float64)
	var queueWaitSum float64
	var queueWaitCount int
	var successCount int

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketJobHistory)
		return b.ForEach(func(_, v []byte) error {
			var row scheduler.JobHistoryRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.CreatedAt.Before(cutoff) {
				return nil
			}
			out.Total++
			out.StateCounts[string(row.State)]++
			if row.State == "completed" {
				successCount++
			}
			if row.QueueWaitS > 0 {
				queueWaitSum += row.QueueWaitS
				queueWaitCount++
			}
			if row.RuntimeS > 0 {
				byAddon[row.AddonID] = append(byAddon[row.AddonID], row.RuntimeS)
			}
			return nil
		})
	})
	if err != nil {
		return Stats{}, err
	}

	if out.Total > 0 {
		out.SuccessRate = float64(successCount) / float64(out.Total)
	}
	if queueWaitCount > 0 {
		out.AvgQueueWaitS = queueWaitSum / float64(queueWaitCount)
	}

	addons := make([]string, 0, len(byAddon))
	for addon := range byAddon {
		addons = append(addons, addon)
	}
	sort.Strings(addons)
	for _, addon := range addons {
		runtimes := byAddon[addon]
		sort.Float64s(runtimes)
		out.PerAddon = append(out.PerAddon, AddonRuntimeStats{
			AddonID:     addon,
			Count:       len(runtimes),
			AvgRuntimeS: average(runtimes),
			P95RuntimeS: percentile95(runtimes),
		})
	}
	return out, nil
}

// PruneHistory removes job_history and job_events rows older than `days`
// days, returning the number of job_history rows removed. Used by the daily
// retention tick and the on-demand admin cleanup operation.
func (s *Store) PruneHistory(days int) (int, error) {
	if days <= 0 {
		days = 30
	}
	cutoff := s.clk.Now().AddDate(0, 0, -days)
	removed := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		jh := tx.Bucket(bucketJobHistory)
		var stale [][]byte
		err := jh.ForEach(func(k, v []byte) error {
			var row scheduler.JobHistoryRow
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.CreatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := jh.Delete(k); err != nil {
				return err
			}
			removed++
		}

		je := tx.Bucket(bucketJobEvents)
		var staleEvents [][]byte
		err = je.ForEach(func(k, v []byte) error {
			var ev scheduler.JobEventRow
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if ev.Time.Before(cutoff) {
				staleEvents = append(staleEvents, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range staleEvents {
			if err := je.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func percentile95(sorted []float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Floor(float64(len(sorted)-1) * 0.95))
	return sorted[idx]
}
