package agent

// Source is one cited URL.
type Source struct {
	URL string `json:"url"`
}

// AnswerResult is the shape returned to callers: the answer segments
// and the URLs the tools surfaced while producing them.
type AnswerResult struct {
	Answer  []string `json:"answer"`
	Sources []Source `json:"sources"`
}

// Synthesize packages a final answer. The answer is always a single
// segment. Sources are the item URLs of every dispatched step, empty
// URLs dropped, exact duplicates removed, in first-seen order.
func Synthesize(finalText string, steps []Step) AnswerResult {
	out := AnswerResult{
		Answer:  []string{finalText},
		Sources: []Source{},
	}
	seen := make(map[string]struct{})
	for _, s := range steps {
		if s.Result == nil {
			continue
		}
		for _, it := range s.Result.Items {
			if it.URL == "" {
				continue
			}
			if _, dup := seen[it.URL]; dup {
				continue
			}
			seen[it.URL] = struct{}{}
			out.Sources = append(out.Sources, Source{URL: it.URL})
		}
	}
	return out
}
