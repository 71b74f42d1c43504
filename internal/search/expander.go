package search

import "fmt"

// Cap on query variants; the original query stays first and matters
// most.
const maxVariants = 3

// Expand generates paraphrase variants of query conditioned on its
// semantic category. The original query is always the first variant.
// personAction and general queries get no extra phrasings.
func Expand(query string, category Category) []string {
	variants := []string{query}

	switch category {
	case CategoryObjectOnly:
		variants = append(variants,
			fmt.Sprintf("%s without people", query),
			fmt.Sprintf("%s alone", query),
			fmt.Sprintf("%s by itself", query),
		)
	case CategoryPersonWithObject:
		variants = append(variants,
			fmt.Sprintf("person holding %s", query),
			fmt.Sprintf("person carrying %s", query),
		)
	case CategoryBehavioral:
		variants = append(variants, fmt.Sprintf("%s behavior", query))
	case CategorySequential:
		variants = append(variants, fmt.Sprintf("person interacting with %s", query))
	}

	if len(variants) > maxVariants {
		variants = variants[:maxVariants]
	}
	return variants
}
