package metrics

import "sort"

// CodeBucket is the number of non successful samples sharing an outcome and
// response code.
type CodeBucket struct {
	Outcome string
	Code    string
	Count   int
}

// FlattenCodeBuckets converts a nested outcome->code map into a sorted slice of CodeBucket rows.
// Rows are sorted by descending count, then by outcome/code for stability.
func FlattenCodeBuckets(buckets map[string]map[string]int) []CodeBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]CodeBucket, 0)
	for outcome, codes := range buckets {
		for code, count := range codes {
			rows = append(rows, CodeBucket{Outcome: outcome, Code: code, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			if rows[i].Outcome == rows[j].Outcome {
				return rows[i].Code < rows[j].Code
			}
			return rows[i].Outcome < rows[j].Outcome
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

// CodeBuckets groups error summaries by outcome and response code.
func CodeBuckets(summaries []ErrorSummary) []CodeBucket {
	if len(summaries) == 0 {
		return nil
	}
	nested := make(map[string]map[string]int)
	for _, s := range summaries {
		code := s.ResponseCode
		if code == "" {
			code = "-"
		}
		outcome := string(s.Outcome)
		if nested[outcome] == nil {
			nested[outcome] = make(map[string]int)
		}
		nested[outcome][code] += int(s.Count)
	}
	return FlattenCodeBuckets(nested)
}
