package retrieval

import "sort"

// stableSortResults orders by Final descending, breaking ties by message
// ID ascending for determinism.
func stableSortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
 if results[i].Final != results[j].Final {
 return results[i].Final > results[j].Final
 }
 return results[i].Message.ID < results[j].Message.ID
	})
}
